package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// LookupOptions enables lookups whose target objects may not carry an external id
type LookupOptions struct {
	Warehouse         bool
	PaymentMethod     bool
	Route             bool
	TriangularPartner bool
}

// Mapper builds NormalizedOrders from ERP rows
type Mapper struct {
	lookups LookupOptions
	now     func() time.Time
}

// MapperOption configures a Mapper
type MapperOption func(*Mapper)

// WithClock overrides the clock used for the integration timestamp
func WithClock(now func() time.Time) MapperOption {
	return func(m *Mapper) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMapper creates a new Mapper
func NewMapper(lookups LookupOptions, opts ...MapperOption) *Mapper {
	m := &Mapper{
		lookups: lookups,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExternalID returns the trimmed document number of a row; ok is false when blank
func ExternalID(r RawRecord) (string, bool) {
	return r.String(ColDocNum)
}

// Map builds the NormalizedOrder for a row with the given status.
// It never fails: invalid values are left out.
func (m *Mapper) Map(r RawRecord, status Status) NormalizedOrder {
	externalID, _ := ExternalID(r)

	o := NormalizedOrder{
		ExternalID:         externalID,
		OrderNumber:        text(r, ColDocNum, MaxOrderNumber),
		Name:               text(r, ColCardName, MaxName),
		CustomerCode:       text(r, ColCardCode, MaxCustomerCode),
		Account:            lookupText(r, ColCardCode, MaxCustomerCode),
		TaxID:              taxID(r),
		Delivery:           address(r, SuffixDelivery),
		Billing:            address(r, SuffixBilling),
		Branch:             lookupInt(r, ColBPLID),
		PaymentTerms:       lookupInt(r, ColGroupNum),
		MainUsage:          lookupText(r, ColMainUsage, MaxMainUsage),
		Carrier:            lookupText(r, ColCarrier, MaxCarrier),
		FreightType:        remap(r, ColTipoFrete, MaxFreightType, MapFreightType),
		FinalConsumer:      remap(r, ColIndFinal, 0, MapFinalConsumer),
		OrderDate:          date(r, ColDocDate),
		ValidUntil:         date(r, ColDocDueDate),
		Subtotal:           money(r, ColSubTotal),
		GrandTotal:         money(r, ColDocTotal),
		ItemCount:          integer(r, ColQtdItens),
		FinalNotes:         text(r, ColObsFinais, MaxNotes),
		InitialNotes:       text(r, ColObsIniciais, MaxNotes),
		CancellationReason: remap(r, ColMotivoCancel, 0, MapCancellationReason),
		Status:             status,
		Transfer:           r.Yes(ColTransfered),
		IntegrationStatus:  IntegrationStatusIntegrated,
		IntegrationMessage: "",
		IntegratedAt:       m.now().UTC().Truncate(time.Second),
		PricebookID:        text(r, ColPricebook2ID, 0),
	}

	if m.lookups.Warehouse {
		o.Warehouse = lookupText(r, ColToWhsCode, MaxWarehouse)
	}
	if m.lookups.PaymentMethod {
		o.PaymentMethod = lookupText(r, ColPeyMethod, MaxPaymentMethod)
	}
	if m.lookups.Route {
		o.Route = lookupText(r, ColRota, MaxRoute)
	}
	if m.lookups.TriangularPartner {
		o.TriangularPartner = lookupText(r, ColPnTriangular, MaxTriangular)
	}

	return o
}

func address(r RawRecord, suffix string) Address {
	country := text(r, colCountry+suffix, MaxCountryCode)
	if country == nil {
		def := DefaultCountryCode
		country = &def
	}
	return Address{
		Street:      text(r, colStreet+suffix, MaxStreet),
		Number:      text(r, colStreetNo+suffix, MaxStreetNo),
		District:    text(r, colBlock+suffix, MaxDistrict),
		Complement:  text(r, colBuilding+suffix, MaxComplement),
		City:        text(r, colCity+suffix, MaxCity),
		PostalCode:  text(r, colZipCode+suffix, MaxPostalCode),
		StateCode:   text(r, colState+suffix, MaxStateCode),
		CountryCode: country,
	}
}

func taxID(r RawRecord) *string {
	s, ok := r.String(ColVATRegNum)
	if !ok {
		return nil
	}
	digits, ok := OnlyDigits(s)
	if !ok {
		return nil
	}
	digits = Truncate(digits, MaxTaxID)
	return &digits
}

func text(r RawRecord, column string, limit int) *string {
	s, ok := r.Text(column, limit)
	if !ok {
		return nil
	}
	return &s
}

func remap(r RawRecord, column string, limit int, fn func(string) (string, bool)) *string {
	s, ok := r.Text(column, limit)
	if !ok {
		return nil
	}
	v, ok := fn(s)
	if !ok {
		return nil
	}
	return &v
}

func date(r RawRecord, column string) *string {
	s, ok := r.Date(column)
	if !ok {
		return nil
	}
	return &s
}

func money(r RawRecord, column string) *decimal.Decimal {
	d, ok := r.Money(column)
	if !ok {
		return nil
	}
	return &d
}

func integer(r RawRecord, column string) *int {
	n, ok := r.Int(column)
	if !ok {
		return nil
	}
	return &n
}
