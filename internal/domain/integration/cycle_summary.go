package integration

import (
	"time"

	"github.com/google/uuid"
)

// CycleSummary accumulates the outcomes of one sync cycle.
// It is owned by a single cycle and is not safe for concurrent use.
type CycleSummary struct {
	CycleID    uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time

	// Total is the number of rows returned by the ERP
	Total     int
	Inserted  int
	Updated   int
	Succeeded int
	Skipped   int
	Errors    int

	// FailedIDs lists the external ids of errored records, in source order
	FailedIDs []string
}

// NewCycleSummary creates a summary for a cycle starting at startedAt
func NewCycleSummary(startedAt time.Time) *CycleSummary {
	return &CycleSummary{
		CycleID:   uuid.New(),
		StartedAt: startedAt,
	}
}

// Record counts one processed record
func (s *CycleSummary) Record(outcome OutcomeKind) {
	switch outcome {
	case OutcomeInsert:
		s.Inserted++
	case OutcomeUpdate:
		s.Updated++
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeError:
		s.Errors++
	}
}

// RecordFailure counts an errored record and remembers its external id
func (s *CycleSummary) RecordFailure(externalID string) {
	s.Errors++
	s.FailedIDs = append(s.FailedIDs, externalID)
}

// Finish stamps the end of the cycle
func (s *CycleSummary) Finish(at time.Time) {
	s.FinishedAt = at
}

// Duration returns how long the cycle took; zero until finished
func (s *CycleSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Processed returns the number of records that reached a final outcome
func (s *CycleSummary) Processed() int {
	return s.Inserted + s.Updated + s.Succeeded + s.Skipped + s.Errors
}

// HasErrors returns true if any record failed
func (s *CycleSummary) HasErrors() bool {
	return s.Errors > 0
}

// CycleStatus is the overall result of a cycle
type CycleStatus string

const (
	CycleStatusSuccess CycleStatus = "SUCCESS"
	CycleStatusPartial CycleStatus = "PARTIAL"
	CycleStatusFailed  CycleStatus = "FAILED"
	CycleStatusSkipped CycleStatus = "SKIPPED"
)

// String returns the string representation of CycleStatus
func (s CycleStatus) String() string {
	return string(s)
}

// Status classifies a finished cycle: no errors is SUCCESS, errors next to
// written records is PARTIAL, errors only is FAILED.
func (s *CycleSummary) Status() CycleStatus {
	if s.Errors == 0 {
		return CycleStatusSuccess
	}
	if s.Inserted+s.Updated+s.Succeeded > 0 {
		return CycleStatusPartial
	}
	return CycleStatusFailed
}
