package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/sfagent/internal/domain/integration"
	"github.com/erp/sfagent/internal/domain/order"
	"github.com/erp/sfagent/internal/infrastructure/telemetry"
)

// maxResponseSize is the maximum response body kept from the CRM (1MB)
const maxResponseSize = 1 * 1024 * 1024

// Client implements integration.OrderGateway against the Salesforce REST API
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure Client implements OrderGateway
var _ integration.OrderGateway = (*Client)(nil)

// NewClient creates a client. A nil httpClient is replaced by one honouring config.Timeout.
func NewClient(config *Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// recordURL returns the resource URL for one external id
func (c *Client) recordURL(externalID string) string {
	return c.config.ResourceURL() + "/" + escapeExternalID(externalID)
}

// escapeExternalID percent-encodes every reserved character, spaces as %20
func escapeExternalID(externalID string) string {
	return strings.ReplaceAll(url.QueryEscape(externalID), "+", "%20")
}

// Exists reports whether an order with the external id is present in the CRM
func (c *Client) Exists(ctx context.Context, token, externalID string) (bool, error) {
	if strings.TrimSpace(externalID) == "" {
		return false, integration.ErrEmptyExternalID
	}

	ctx, span := telemetry.StartClientSpan(ctx, "salesforce.exists",
		telemetry.KeyExternalID.String(externalID),
	)
	defer span.End()

	status, body, err := c.do(ctx, http.MethodGet, c.recordURL(externalID), token, nil)
	if err != nil {
		err = fmt.Errorf("%w: %w", integration.ErrExistenceCheckFailed, err)
		telemetry.RecordError(span, err)
		return false, err
	}
	span.SetAttributes(telemetry.KeyHTTPStatus.Int(status))

	exists, err := integration.ClassifyExists(status, body)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	telemetry.SetOK(span)
	return exists, nil
}

// Upsert creates or updates the order identified by externalID
func (c *Client) Upsert(ctx context.Context, token, externalID string, o *order.NormalizedOrder) (*integration.UpsertResult, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, integration.ErrEmptyExternalID
	}

	ctx, span := telemetry.StartClientSpan(ctx, "salesforce.upsert",
		telemetry.KeyExternalID.String(externalID),
	)
	defer span.End()

	payload, err := json.Marshal(newPedidoBody(o))
	if err != nil {
		err = fmt.Errorf("%w: failed to encode body: %w", integration.ErrUpsertFailed, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	status, body, err := c.do(ctx, http.MethodPatch, c.recordURL(externalID), token, payload)
	if err != nil {
		err = fmt.Errorf("%w: %w", integration.ErrUpsertFailed, err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(telemetry.KeyHTTPStatus.Int(status))

	result, err := integration.ClassifyUpsert(status, body)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(telemetry.KeyOutcome.String(result.Outcome.String()))
	telemetry.SetOK(span)
	return result, nil
}

// do sends one request and returns the status code and body
func (c *Client) do(ctx context.Context, method, target, token string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("salesforce: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("salesforce: failed to read response: %w", err)
	}

	c.logger.Debug("CRM request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, body, nil
}
