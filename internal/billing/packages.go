package billing

import "errors"

// ErrUnknownPackage is returned for a package id that is not on sale.
var ErrUnknownPackage = errors.New("unknown credit package")

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Credits       int64  `json:"credits"`
	PriceCents    int64  `json:"price"`
	PriceDisplay  string `json:"priceDisplay"`
	StripePriceID string `json:"-"`
	Highlight     bool   `json:"highlight"`
}

// PriceIDs maps packages to Stripe price ids. Empty ids fall back to inline price data.
type PriceIDs struct {
	Starter string
	Growth  string
	Pro     string
}

// Packages returns the credit packages on sale in display order.
func Packages(prices PriceIDs) []CreditPackage {
	return []CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 100, PriceCents: 1000, PriceDisplay: "$10", StripePriceID: prices.Starter},
		{ID: "growth", Name: "Growth", Credits: 500, PriceCents: 4000, PriceDisplay: "$40", StripePriceID: prices.Growth, Highlight: true},
		{ID: "pro", Name: "Pro", Credits: 1500, PriceCents: 9900, PriceDisplay: "$99", StripePriceID: prices.Pro},
	}
}

// FindPackage looks a package up by id.
func FindPackage(packages []CreditPackage, id string) (CreditPackage, error) {
	for _, p := range packages {
		if p.ID == id {
			return p, nil
		}
	}
	return CreditPackage{}, ErrUnknownPackage
}
