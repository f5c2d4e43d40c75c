package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Integration status stamped on every synchronized order
const IntegrationStatusIntegrated = "Integrado"

// Address is a postal address of an order. Nil fields are omitted on the wire.
type Address struct {
	Street      *string
	Number      *string
	District    *string
	Complement  *string
	City        *string
	PostalCode  *string
	StateCode   *string
	CountryCode *string
}

// NormalizedOrder is the CRM-shaped representation of a RawRecord.
// Every optional field is nil when the ERP value was absent or invalid.
type NormalizedOrder struct {
	// ExternalID is the untruncated document number used to address the record
	ExternalID string

	// Identification
	OrderNumber *string
	Name        *string

	// Party
	CustomerCode *string
	Account      *LookupReference
	TaxID        *string

	Delivery Address
	Billing  Address

	// Commercial
	Branch            *LookupReference
	PaymentTerms      *LookupReference
	MainUsage         *LookupReference
	Carrier           *LookupReference
	Warehouse         *LookupReference
	PaymentMethod     *LookupReference
	Route             *LookupReference
	TriangularPartner *LookupReference
	FreightType       *string
	FinalConsumer     *string

	// Dates (YYYY-MM-DD)
	OrderDate  *string
	ValidUntil *string

	// Totals
	Subtotal   *decimal.Decimal
	GrandTotal *decimal.Decimal
	ItemCount  *int

	// Notes
	FinalNotes         *string
	InitialNotes       *string
	CancellationReason *string

	Status Status

	// Integration bookkeeping
	Transfer           bool
	IntegrationStatus  string
	IntegrationMessage string
	IntegratedAt       time.Time

	PricebookID *string
}
