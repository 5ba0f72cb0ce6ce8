package email

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("January 2, 2006") },
}

func loadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
}

var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
}

// FormatPrice renders minor units, e.g. 4900 usd as $49.00.
func FormatPrice(cents int64, currency string) string {
	amount := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if sym, ok := currencySymbols[strings.ToLower(currency)]; ok {
		return sym + amount
	}
	return amount + " " + strings.ToUpper(currency)
}
