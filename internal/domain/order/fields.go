package order

// ERP column names returned by the order query
const (
	ColDocNum       = "DocNum"
	ColDocStatus    = "DocStatus"
	ColCanceled     = "CANCELED"
	ColPrinted      = "Printed"
	ColCardCode     = "CardCode"
	ColCardName     = "CardName"
	ColBPLID        = "BPLId"
	ColGroupNum     = "GroupNum"
	ColTipoFrete    = "TipoFrete"
	ColRota         = "Rota"
	ColDocDate      = "DocDate"
	ColDocDueDate   = "DocDueDate"
	ColMotivoCancel = "MotivoCancel"
	ColObsFinais    = "ObsFinais"
	ColObsIniciais  = "ObsIniciais"
	ColDocTotal     = "DocTotal"
	ColIndFinal     = "IndFinal"
	ColPnTriangular = "PnTriangular"
	ColMainUsage    = "MainUsage"
	ColCarrier      = "Carrier"
	ColPeyMethod    = "PeyMethod"
	ColToWhsCode    = "ToWhsCode"
	ColSubTotal     = "SubTotal"
	ColPricebook2ID = "Pricebook2Id"
	ColQtdItens     = "QtdItens"
	ColTransfered   = "Transfered"
	ColVATRegNum    = "VATRegNum"
)

// Address column stems; the ERP suffixes them with S (ship-to) or B (bill-to)
const (
	colStreet   = "Street"
	colStreetNo = "StreetNo"
	colBlock    = "Block"
	colBuilding = "Building"
	colCity     = "City"
	colZipCode  = "ZipCode"
	colState    = "State"
	colCountry  = "Country"

	SuffixDelivery = "S"
	SuffixBilling  = "B"
)

// Maximum lengths enforced before transmission
const (
	MaxOrderNumber     = 10
	MaxName            = 80
	MaxCustomerCode    = 50
	MaxTaxID           = 18
	MaxFreightType     = 10
	MaxRoute           = 20
	MaxNotes           = 255
	MaxTriangular      = 12
	MaxMainUsage       = 50
	MaxCarrier         = 50
	MaxPaymentMethod   = 40
	MaxWarehouse       = 8
	MaxStreet          = 254
	MaxStreetNo        = 20
	MaxDistrict        = 100
	MaxComplement      = 255
	MaxCity            = 80
	MaxPostalCode      = 20
	MaxStateCode       = 2
	MaxCountryCode     = 2
	DefaultCountryCode = "BR"
)
