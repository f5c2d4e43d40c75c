package order

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Freight types accepted by the CRM picklist
const (
	FreightCIF = "CIF"
	FreightFOB = "FOB"
)

// Final consumer picklist values
const (
	FinalConsumerYes = "Sim"
	FinalConsumerNo  = "Não"
)

// Cancellation reasons accepted by the CRM picklist
const (
	ReasonPaymentTerms     = "Condição de Pagamento"
	ReasonCredit           = "Crédito"
	ReasonStock            = "Estoque"
	ReasonDeliveryTime     = "Prazo de Entrega"
	ReasonPrice            = "Preço"
	ReasonResidualQuantity = "Quantidade Residual"
	ReasonPriceQuotation   = "Tomada de Preço"
	ReasonOrderExchange    = "Troca de Pedido"
)

// reasonRule maps free text to a cancellation reason.
// The rule matches when every group has at least one needle in the text.
type reasonRule struct {
	groups [][]string
	reason string
}

// cancellationRules are evaluated in order; the first match wins
var cancellationRules = []reasonRule{
	{groups: [][]string{{"condi"}, {"pag"}}, reason: ReasonPaymentTerms},
	{groups: [][]string{{"crédit", "credito"}}, reason: ReasonCredit},
	{groups: [][]string{{"estoq"}}, reason: ReasonStock},
	{groups: [][]string{{"prazo"}}, reason: ReasonDeliveryTime},
	{groups: [][]string{{"preç", "preco", "preço"}}, reason: ReasonPrice},
	{groups: [][]string{{"residual"}}, reason: ReasonResidualQuantity},
	{groups: [][]string{{"tomada"}}, reason: ReasonPriceQuotation},
	{groups: [][]string{{"troca"}}, reason: ReasonOrderExchange},
}

func (r reasonRule) matches(text string) bool {
	for _, group := range r.groups {
		found := false
		for _, needle := range group {
			if strings.Contains(text, needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Truncate cuts s to at most limit runes. A non-positive limit returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// OnlyDigits strips every non-digit character. ok is false when nothing is left.
func OnlyDigits(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// MapFreightType maps free freight text to CIF or FOB by prefix.
// Anything else is absent.
func MapFreightType(s string) (string, bool) {
	v := cases.Upper(language.Und).String(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(v, FreightCIF):
		return FreightCIF, true
	case strings.HasPrefix(v, FreightFOB):
		return FreightFOB, true
	default:
		return "", false
	}
}

// MapCancellationReason maps free cancellation text to a CRM reason.
// Unrecognized text is absent.
func MapCancellationReason(s string) (string, bool) {
	text := cases.Lower(language.Und).String(strings.TrimSpace(s))
	if text == "" {
		return "", false
	}
	for _, rule := range cancellationRules {
		if rule.matches(text) {
			return rule.reason, true
		}
	}
	return "", false
}

// MapFinalConsumer maps the ERP final-consumer indicator to Sim/Não
func MapFinalConsumer(s string) (string, bool) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", false
	}
	if strings.EqualFold(v, "Y") {
		return FinalConsumerYes, true
	}
	return FinalConsumerNo, true
}
