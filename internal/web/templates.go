package web

import (
	"embed"
	"fmt"
	"html/template"

	"github.com/Rhymond/go-money"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{
	"portfolio", "buy", "sell", "quote", "quoted",
	"history", "login", "register", "apology",
}

// usd renders a numeric amount as a fixed-point US dollar string. All
// internal arithmetic stays numeric; this is the presentation boundary.
func usd(amount float64) string {
	return money.NewFromFloat(amount, money.USD).Display()
}

// view is the data handed to every template: the layout reads Title and
// Flash, the page content reads Data.
type view struct {
	Title string
	Flash string
	Data  any
}

func parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{"usd": usd}

	set := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := template.New(page).Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %q: %w", page, err)
		}
		set[page] = t
	}
	return set, nil
}
