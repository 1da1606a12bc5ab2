package main

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExternalPaymentRedirect is the single use form that hands a transaction to
// an off-site processor.
type ExternalPaymentRedirect struct {
	TargetURL  *url.URL
	FormFields map[string]string
}

func (r *ExternalPaymentRedirect) Values() url.Values {
	v := make(url.Values, len(r.FormFields))
	for name, value := range r.FormFields {
		v.Set(name, value)
	}
	return v
}

// ParseExternalRedirect reads form#externalForm. It returns nil when the form
// is missing or its action is not an absolute URL. Inputs with an empty name
// or value are dropped.
func ParseExternalRedirect(doc *goquery.Document) *ExternalPaymentRedirect {
	if doc == nil {
		return nil
	}

	form := doc.Find("form#externalForm").First()
	if form.Length() == 0 {
		return nil
	}

	action, _ := form.Attr("action")
	target, err := url.Parse(strings.TrimSpace(action))
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil
	}

	fields := make(map[string]string)
	form.Find("input").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		value, _ := input.Attr("value")
		if name == "" || value == "" {
			return
		}
		fields[name] = value
	})

	return &ExternalPaymentRedirect{TargetURL: target, FormFields: fields}
}
