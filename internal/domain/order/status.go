package order

import "strings"

// Status is the CRM order status
type Status string

const (
	StatusDraft     Status = "Rascunho"
	StatusCancelled Status = "Cancelado"
	StatusInvoiced  Status = "Faturado"
	StatusPrinted   Status = "Impresso"
	StatusPending   Status = "Pendente"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// StatusFromFlags derives the status of an order already present in the CRM.
// Precedence: cancelled, closed document, printed, open document, draft.
func StatusFromFlags(docStatus string, cancelled, printed bool) Status {
	docStatus = strings.TrimSpace(docStatus)
	switch {
	case cancelled:
		return StatusCancelled
	case strings.EqualFold(docStatus, "C"):
		return StatusInvoiced
	case printed:
		return StatusPrinted
	case strings.EqualFold(docStatus, "O"):
		return StatusPending
	default:
		return StatusDraft
	}
}

// DeriveStatus derives the CRM status of a row.
// Orders not yet in the CRM are always created as drafts.
func DeriveStatus(r RawRecord, exists bool) Status {
	if !exists {
		return StatusDraft
	}
	docStatus, _ := r.String(ColDocStatus)
	return StatusFromFlags(docStatus, r.Yes(ColCanceled), r.Yes(ColPrinted))
}
