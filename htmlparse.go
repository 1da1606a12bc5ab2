package main

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// GiftCardOption is one denomination offered on the gift card page. Amount is
// in the smallest currency unit.
type GiftCardOption struct {
	Amount uint32
	Label  string
}

var giftCardAmountRe = regexp.MustCompile(`submitSelectGiftCard\(\s*(\d+)\s*\)`)

func ParseGiftCardOptions(doc *goquery.Document) []GiftCardOption {
	if doc == nil {
		return nil
	}

	var options []GiftCardOption
	seen := make(map[uint32]bool)

	doc.Find(`a[href*="submitSelectGiftCard"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := giftCardAmountRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		amount, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil || amount == 0 || seen[uint32(amount)] {
			return
		}
		seen[uint32(amount)] = true

		label := strings.TrimSpace(a.Closest(".giftcard_selection").Find(".giftcard_amount").First().Text())
		if label == "" {
			label = strings.Join(strings.Fields(a.Text()), " ")
		}
		options = append(options, GiftCardOption{Amount: uint32(amount), Label: label})
	})

	return options
}

// ParseShoppingCartID reads the gidShoppingCart hidden input some funding pages
// carry.
func ParseShoppingCartID(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	v, _ := doc.Find(`input[name="gidShoppingCart"]`).First().Attr("value")
	v = strings.TrimSpace(v)
	if v == "-1" {
		return ""
	}
	return v
}

// CountryOption is one entry of the cart page country selector.
type CountryOption struct {
	Code string
	Name string
}

// CartCountries is the country the cart is priced in and the ones it can be
// switched to.
type CartCountries struct {
	Current   string
	Available []CountryOption
}

// ParseCartCountries reads the country selector of the cart page. It returns
// nil when the page has no selector.
func ParseCartCountries(doc *goquery.Document) *CartCountries {
	if doc == nil {
		return nil
	}
	list := doc.Find("#usercountrycurrency_droplist")
	if list.Length() == 0 {
		return nil
	}

	res := &CartCountries{}
	res.Current, _ = doc.Find("#usercountrycurrency").First().Attr("value")
	res.Current = strings.ToUpper(strings.TrimSpace(res.Current))

	seen := make(map[string]bool)
	list.Find("a[id]").Each(func(_ int, a *goquery.Selection) {
		code, _ := a.Attr("id")
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] {
			return
		}
		seen[code] = true
		res.Available = append(res.Available, CountryOption{Code: code, Name: strings.Join(strings.Fields(a.Text()), " ")})
	})
	return res
}
