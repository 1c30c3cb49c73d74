package pricing

import "strings"

var totalTitles = map[string]map[TotalCode]string{
	"en": {
		TotalSubtotal:    "Subtotal",
		TotalDiscount:    "Discount",
		TotalTax:         "Tax",
		TotalShipping:    "Shipping",
		TotalShippingTax: "Tax on shipping",
	},
	"id": {
		TotalSubtotal:    "Subtotal",
		TotalDiscount:    "Diskon",
		TotalTax:         "Pajak",
		TotalShipping:    "Ongkos kirim",
		TotalShippingTax: "Pajak ongkos kirim",
	},
}

func titlesFor(language string) map[TotalCode]string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if titles, ok := totalTitles[lang]; ok {
		return titles
	}
	return totalTitles["en"]
}
