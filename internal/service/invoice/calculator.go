package invoice

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Extraction is the loosely typed field set returned by the OCR API. Values
// may be JSON numbers or locale-formatted strings.
type Extraction map[string]interface{}

var (
	invoiceNumberKeys = []string{"numero_nfse", "numero_nota", "numero"}
	grossKeys         = []string{"valor_servicos", "valor_bruto", "valor_total"}
	inssKeys          = []string{"valor_inss", "inss"}
	irrfKeys          = []string{"valor_irrf", "irrf", "valor_ir"}
	csllKeys          = []string{"valor_csll", "csll"}
	cofinsKeys        = []string{"valor_cofins", "cofins"}
	pisKeys           = []string{"valor_pis", "pis"}
	issKeys           = []string{"valor_iss", "iss"}
	issRetainedKeys   = []string{"iss_retido", "iss_retained"}
	discountKeys      = []string{"desconto_incondicionado"}
	otherKeys         = []string{"outras_retencoes", "outras_deducoes"}
)

func (e Extraction) lookup(keys []string) interface{} {
	for _, k := range keys {
		if v, ok := e[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// Withholdings is the per-tax breakdown deducted from the gross value.
type Withholdings struct {
	INSS                  decimal.Decimal
	IRRF                  decimal.Decimal
	CSLL                  decimal.Decimal
	COFINS                decimal.Decimal
	PIS                   decimal.Decimal
	ISS                   decimal.Decimal
	UnconditionalDiscount decimal.Decimal
	OtherDeductions       decimal.Decimal
}

// NetInvoice is the outcome of CalculateNetInvoice. ISS in Withholdings is
// the extracted amount; it only counts towards Total when ISSRetained.
type NetInvoice struct {
	InvoiceNumber *string
	Gross         decimal.Decimal
	Net           decimal.Decimal
	ISSRetained   bool
	Withholdings  Withholdings
	Total         decimal.Decimal
}

// CalculateNetInvoice derives the net payable value from an extraction:
// gross minus INSS, IRRF, CSLL, COFINS, PIS, ISS when retained, the
// unconditional discount and other deductions, rounded half away from zero
// to two places. Missing or unparseable amounts count as zero.
func CalculateNetInvoice(e Extraction) NetInvoice {
	w := Withholdings{
		INSS:                  ParseAmount(e.lookup(inssKeys)),
		IRRF:                  ParseAmount(e.lookup(irrfKeys)),
		CSLL:                  ParseAmount(e.lookup(csllKeys)),
		COFINS:                ParseAmount(e.lookup(cofinsKeys)),
		PIS:                   ParseAmount(e.lookup(pisKeys)),
		ISS:                   ParseAmount(e.lookup(issKeys)),
		UnconditionalDiscount: ParseAmount(e.lookup(discountKeys)),
		OtherDeductions:       ParseAmount(e.lookup(otherKeys)),
	}
	issRetained := ParseFlag(e.lookup(issRetainedKeys))
	gross := ParseAmount(e.lookup(grossKeys))

	total := w.INSS.Add(w.IRRF).Add(w.CSLL).Add(w.COFINS).Add(w.PIS).
		Add(w.UnconditionalDiscount).Add(w.OtherDeductions)
	if issRetained {
		total = total.Add(w.ISS)
	}

	return NetInvoice{
		InvoiceNumber: parseInvoiceNumber(e.lookup(invoiceNumberKeys)),
		Gross:         gross.Round(2),
		Net:           gross.Sub(total).Round(2),
		ISSRetained:   issRetained,
		Withholdings:  w,
		Total:         total.Round(2),
	}
}

var (
	commaDecimal = regexp.MustCompile(`,\d{1,2}$`)
	nonNumeric   = regexp.MustCompile(`[^0-9,.\-]`)
)

// ParseAmount reads a monetary value. Strings ending in a comma followed by
// one or two digits use comma as the decimal point ("1.234,56"); anything
// else uses dot ("1,234.56"). Currency symbols and spaces are ignored.
func ParseAmount(v interface{}) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(x)
	case float32:
		return ParseAmount(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		return ParseAmount(string(x))
	case string:
		return parseAmountString(x)
	default:
		return decimal.Zero
	}
}

func parseAmountString(s string) decimal.Decimal {
	s = nonNumeric.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return decimal.Zero
	}

	if commaDecimal.MatchString(s) {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseFlag reads the ISS-retained indicator.
func ParseFlag(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case int:
		return x == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "sim", "s", "true", "1", "yes", "y":
			return true
		}
	}
	return false
}

func parseInvoiceNumber(v interface{}) *string {
	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		s = x.String()
	case int:
		s = strconv.Itoa(x)
	}
	if s == "" {
		return nil
	}
	return &s
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type withholdingsJSON struct {
	INSS                  json.Number `json:"inss"`
	IRRF                  json.Number `json:"irrf"`
	CSLL                  json.Number `json:"csll"`
	COFINS                json.Number `json:"cofins"`
	PIS                   json.Number `json:"pis"`
	ISS                   json.Number `json:"iss"`
	UnconditionalDiscount json.Number `json:"unconditional_discount"`
	OtherDeductions       json.Number `json:"other_deductions"`
}

type netInvoiceJSON struct {
	InvoiceNumber *string          `json:"invoice_number"`
	Gross         json.Number      `json:"gross_value"`
	Net           json.Number      `json:"net_value"`
	ISSRetained   bool             `json:"iss_retained"`
	Total         json.Number      `json:"total_deductions"`
	Withholdings  withholdingsJSON `json:"withholdings"`
}

// MarshalJSON renders every amount with exactly two decimals.
func (n NetInvoice) MarshalJSON() ([]byte, error) {
	w := n.Withholdings
	out := netInvoiceJSON{
		InvoiceNumber: n.InvoiceNumber,
		Gross:         money(n.Gross),
		Net:           money(n.Net),
		ISSRetained:   n.ISSRetained,
		Total:         money(n.Total),
		Withholdings: withholdingsJSON{
			INSS:                  money(w.INSS),
			IRRF:                  money(w.IRRF),
			CSLL:                  money(w.CSLL),
			COFINS:                money(w.COFINS),
			PIS:                   money(w.PIS),
			ISS:                   money(w.ISS),
			UnconditionalDiscount: money(w.UnconditionalDiscount),
			OtherDeductions:       money(w.OtherDeductions),
		},
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode net invoice: %w", err)
	}
	return b, nil
}
