package salesforce

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/erp/sfagent/internal/domain/order"
)

// integratedAtLayout is the UTC timestamp layout of CA_AtualizacaoERP__c
const integratedAtLayout = "2006-01-02T15:04:05Z"

// lookupRef is the external id reference shape of a relationship field
type lookupRef struct {
	ExternalID string `json:"CA_IdExterno__c"`
}

// pedidoBody is the JSON body of an order upsert. Nil fields are omitted.
type pedidoBody struct {
	OrderNumber  *string    `json:"CA_NPedidoSAP__c,omitempty"`
	Name         *string    `json:"Name,omitempty"`
	CustomerCode *string    `json:"CA_CodCliente__c,omitempty"`
	Account      *lookupRef `json:"Account,omitempty"`
	TaxID        *string    `json:"CA_CPFCNPJ__c,omitempty"`

	DeliveryStreet      *string `json:"CA_EnderecoEntrega__Street__s,omitempty"`
	DeliveryNumber      *string `json:"CA_NumeroEntrega__c,omitempty"`
	DeliveryDistrict    *string `json:"CA_BairroEntrega__c,omitempty"`
	DeliveryComplement  *string `json:"CA_ComplementoEntrega__c,omitempty"`
	DeliveryCity        *string `json:"CA_EnderecoEntrega__City__s,omitempty"`
	DeliveryPostalCode  *string `json:"CA_EnderecoEntrega__PostalCode__s,omitempty"`
	DeliveryStateCode   *string `json:"CA_EnderecoEntrega__StateCode__s,omitempty"`
	DeliveryCountryCode *string `json:"CA_EnderecoEntrega__CountryCode__s,omitempty"`

	BillingStreet      *string `json:"CA_EnderecoCobranca__Street__s,omitempty"`
	BillingNumber      *string `json:"CA_NumeroCobranca__c,omitempty"`
	BillingDistrict    *string `json:"CA_BairroCobranca__c,omitempty"`
	BillingComplement  *string `json:"CA_ComplementoCobranca__c,omitempty"`
	BillingCity        *string `json:"CA_EnderecoCobranca__City__s,omitempty"`
	BillingPostalCode  *string `json:"CA_EnderecoCobranca__PostalCode__s,omitempty"`
	BillingStateCode   *string `json:"CA_EnderecoCobranca__StateCode__s,omitempty"`
	BillingCountryCode *string `json:"CA_EnderecoCobranca__CountryCode__s,omitempty"`

	Branch            *lookupRef `json:"CA_Filial__r,omitempty"`
	PaymentTerms      *lookupRef `json:"CA_CondicaodePagamento__r,omitempty"`
	MainUsage         *lookupRef `json:"CA_UsoPrincipal2__r,omitempty"`
	Carrier           *lookupRef `json:"CA_Transportadora__r,omitempty"`
	Warehouse         *lookupRef `json:"CA_Deposito__r,omitempty"`
	PaymentMethod     *lookupRef `json:"CA_FormaPagamento__r,omitempty"`
	Route             *lookupRef `json:"CA_Rota__r,omitempty"`
	TriangularPartner *lookupRef `json:"CA_PnTriangular__r,omitempty"`
	FreightType       *string    `json:"CA_TipoFrete__c,omitempty"`
	FinalConsumer     *string    `json:"CA_ConsumidorFinal__c,omitempty"`

	OrderDate  *string `json:"EffectiveDate,omitempty"`
	ValidUntil *string `json:"CA_ValidoAte__c,omitempty"`

	Subtotal   *json.Number `json:"CA_Subtotal__c,omitempty"`
	GrandTotal *json.Number `json:"CA_TotalGeral__c,omitempty"`
	ItemCount  *int         `json:"CA_QtdItens__c,omitempty"`

	FinalNotes         *string `json:"CA_ObservacoesFinais__c,omitempty"`
	InitialNotes       *string `json:"CA_ObservacoesIniciais__c,omitempty"`
	CancellationReason *string `json:"CA_MotivoCancelamento__c,omitempty"`

	Status             string  `json:"Status"`
	Transfer           bool    `json:"CA_Transferencia__c"`
	IntegrationStatus  string  `json:"CA_StatusIntegracao__c"`
	IntegrationMessage string  `json:"CA_RetornoIntegracao__c"`
	IntegratedAt       string  `json:"CA_AtualizacaoERP__c"`
	PricebookID        *string `json:"Pricebook2Id,omitempty"`
}

// newPedidoBody converts a normalized order to its wire form
func newPedidoBody(o *order.NormalizedOrder) *pedidoBody {
	b := &pedidoBody{
		OrderNumber:  o.OrderNumber,
		Name:         o.Name,
		CustomerCode: o.CustomerCode,
		Account:      toLookupRef(o.Account),
		TaxID:        o.TaxID,

		DeliveryStreet:      o.Delivery.Street,
		DeliveryNumber:      o.Delivery.Number,
		DeliveryDistrict:    o.Delivery.District,
		DeliveryComplement:  o.Delivery.Complement,
		DeliveryCity:        o.Delivery.City,
		DeliveryPostalCode:  o.Delivery.PostalCode,
		DeliveryStateCode:   o.Delivery.StateCode,
		DeliveryCountryCode: o.Delivery.CountryCode,

		BillingStreet:      o.Billing.Street,
		BillingNumber:      o.Billing.Number,
		BillingDistrict:    o.Billing.District,
		BillingComplement:  o.Billing.Complement,
		BillingCity:        o.Billing.City,
		BillingPostalCode:  o.Billing.PostalCode,
		BillingStateCode:   o.Billing.StateCode,
		BillingCountryCode: o.Billing.CountryCode,

		Branch:            toLookupRef(o.Branch),
		PaymentTerms:      toLookupRef(o.PaymentTerms),
		MainUsage:         toLookupRef(o.MainUsage),
		Carrier:           toLookupRef(o.Carrier),
		Warehouse:         toLookupRef(o.Warehouse),
		PaymentMethod:     toLookupRef(o.PaymentMethod),
		Route:             toLookupRef(o.Route),
		TriangularPartner: toLookupRef(o.TriangularPartner),
		FreightType:       o.FreightType,
		FinalConsumer:     o.FinalConsumer,

		OrderDate:  o.OrderDate,
		ValidUntil: o.ValidUntil,

		Subtotal:   toMoney(o.Subtotal),
		GrandTotal: toMoney(o.GrandTotal),
		ItemCount:  o.ItemCount,

		FinalNotes:         o.FinalNotes,
		InitialNotes:       o.InitialNotes,
		CancellationReason: o.CancellationReason,

		Status:             string(o.Status),
		Transfer:           o.Transfer,
		IntegrationStatus:  o.IntegrationStatus,
		IntegrationMessage: o.IntegrationMessage,
		PricebookID:        o.PricebookID,
	}
	if !o.IntegratedAt.IsZero() {
		b.IntegratedAt = o.IntegratedAt.UTC().Format(integratedAtLayout)
	}
	return b
}

func toLookupRef(ref *order.LookupReference) *lookupRef {
	if ref == nil {
		return nil
	}
	return &lookupRef{ExternalID: ref.ExternalID}
}

// toMoney renders a decimal as a JSON number with two places
func toMoney(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.StringFixed(2))
	return &n
}
