package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/erp/sfagent/internal/domain/order"
)

// ---------------------------------------------------------------------------
// CRM Gateway Errors
// ---------------------------------------------------------------------------

var (
	ErrExistenceCheckFailed = errors.New("integration: existence check failed")
	ErrUpsertFailed         = errors.New("integration: upsert failed")
	ErrEmptyExternalID      = errors.New("integration: empty external id")
)

// StatusError is returned when the CRM answers with an unexpected HTTP status.
// Body is kept verbatim for diagnostics.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	Kind       error
}

// Error implements error
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap returns the sentinel kind so callers can use errors.Is
func (e *StatusError) Unwrap() error {
	return e.Kind
}

// ---------------------------------------------------------------------------
// Upsert Outcome
// ---------------------------------------------------------------------------

// OutcomeKind classifies the result of processing one order
type OutcomeKind string

const (
	// OutcomeInsert means the CRM created a new record
	OutcomeInsert OutcomeKind = "INSERT"
	// OutcomeUpdate means the CRM updated an existing record
	OutcomeUpdate OutcomeKind = "UPDATE"
	// OutcomeSuccess means any other 2xx answer
	OutcomeSuccess OutcomeKind = "SUCCESS"
	// OutcomeError means the record failed
	OutcomeError OutcomeKind = "ERROR"
	// OutcomeSkipped means the record had no external id
	OutcomeSkipped OutcomeKind = "SKIPPED"
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	return string(k)
}

// UpsertResult describes a successful upsert
type UpsertResult struct {
	Outcome    OutcomeKind
	Method     string
	StatusCode int
	// ID is the CRM-assigned identifier, present only on INSERT
	ID      string
	RawBody string
}

// upsertResponse is the body the CRM returns on create
type upsertResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Created bool   `json:"created"`
	Errors  []any  `json:"errors"`
}

// ClassifyUpsert maps an upsert HTTP answer to an outcome.
// An unparseable create body leaves ID empty.
func ClassifyUpsert(statusCode int, body []byte) (*UpsertResult, error) {
	result := &UpsertResult{
		Method:     http.MethodPatch,
		StatusCode: statusCode,
		RawBody:    string(body),
	}

	switch {
	case statusCode == http.StatusCreated:
		result.Outcome = OutcomeInsert
		var resp upsertResponse
		if err := json.Unmarshal(body, &resp); err == nil {
			result.ID = resp.ID
		}
	case statusCode == http.StatusNoContent:
		result.Outcome = OutcomeUpdate
	case statusCode >= 200 && statusCode < 300:
		result.Outcome = OutcomeSuccess
	default:
		return nil, &StatusError{
			Op:         "upsert",
			StatusCode: statusCode,
			Body:       string(body),
			Kind:       ErrUpsertFailed,
		}
	}
	return result, nil
}

// ClassifyExists maps an existence check HTTP answer: 404 is absent, 2xx is present
func ClassifyExists(statusCode int, body []byte) (bool, error) {
	switch {
	case statusCode == http.StatusNotFound:
		return false, nil
	case statusCode >= 200 && statusCode < 300:
		return true, nil
	default:
		return false, &StatusError{
			Op:         "exists",
			StatusCode: statusCode,
			Body:       string(body),
			Kind:       ErrExistenceCheckFailed,
		}
	}
}

// ---------------------------------------------------------------------------
// OrderGateway Port
// ---------------------------------------------------------------------------

// OrderGateway is the CRM port for order records addressed by external id
type OrderGateway interface {
	// Exists reports whether an order with the external id is present in the CRM
	Exists(ctx context.Context, token, externalID string) (bool, error)

	// Upsert creates or updates the order identified by externalID
	Upsert(ctx context.Context, token, externalID string, o *order.NormalizedOrder) (*UpsertResult, error)
}

// TokenProvider yields a bearer token for CRM calls
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
