// Package enrich derives normalized pricing and image metadata for records.
package enrich

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

type currencyToken struct {
	token string
	code  string
}

// currencyTable is matched in order; the first token found in any text wins.
var currencyTable = []currencyToken{
	{"₩", "KRW"},
	{"원", "KRW"},
	{"krw", "KRW"},
	{"円", "JPY"},
	{"¥", "JPY"},
	{"jpy", "JPY"},
	{"yen", "JPY"},
	{"元", "CNY"},
	{"cny", "CNY"},
	{"rmb", "CNY"},
	{"€", "EUR"},
	{"eur", "EUR"},
	{"us$", "USD"},
	{"usd", "USD"},
	{"$", "USD"},
}

var amountPattern = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

// NormalizePricing scans every text for a currency and numeric amounts.
// Min and max span all texts together. It returns nil when nothing was found.
func NormalizePricing(texts []string) *crawler.NormalizedPrice {
	currency := detectCurrency(texts)

	var (
		amounts []float64
		lo, hi  float64
	)
	for _, text := range texts {
		for _, tok := range amountPattern.FindAllString(text, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", ""), 64)
			if err != nil {
				continue
			}
			if len(amounts) == 0 || v < lo {
				lo = v
			}
			if len(amounts) == 0 || v > hi {
				hi = v
			}
			amounts = append(amounts, v)
		}
	}

	if currency == "" && len(amounts) == 0 {
		return nil
	}
	out := &crawler.NormalizedPrice{Currency: currency}
	if len(amounts) > 0 {
		out.AmountMin = &lo
		out.AmountMax = &hi
	}
	return out
}

func detectCurrency(texts []string) string {
	lowered := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			lowered = append(lowered, strings.ToLower(t))
		}
	}
	for _, entry := range currencyTable {
		for _, t := range lowered {
			if strings.Contains(t, entry.token) {
				return entry.code
			}
		}
	}
	return ""
}

// ApplyPricing sets rec.Pricing.Normalized from the translated price texts,
// falling back to the merged description.
func ApplyPricing(rec *crawler.Record, locales []string) {
	texts := rec.PriceDescriptions(locales)
	if len(texts) == 0 && rec.Pricing.Description != "" {
		texts = []string{rec.Pricing.Description}
	}
	rec.Pricing.Normalized = NormalizePricing(texts)
}
