package normalization

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
)

type wooProduct struct {
	ID               flexString `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	Permalink        string     `json:"permalink"`
	Price            flexString `json:"price"`
	RegularPrice     flexString `json:"regular_price"`
	SKU              string     `json:"sku"`
	StockStatus      string     `json:"stock_status"`
	StockQuantity    *int       `json:"stock_quantity"`
	Description      string     `json:"description"`
	ShortDescription string     `json:"short_description"`
	DateModifiedGMT  string     `json:"date_modified_gmt"`
	Categories       []struct {
		Name string `json:"name"`
	} `json:"categories"`
	Tags []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Images []struct {
		Src string `json:"src"`
	} `json:"images"`
	Brands []struct {
		Name string `json:"name"`
	} `json:"brands"`
}

func normalizeWooCommerce(raw json.RawMessage) (*catalog.Product, error) {
	var w wooProduct
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("normalize woocommerce: %w", err)
	}
	p := &catalog.Product{
		ExternalProductID: string(w.ID),
		Name:              StripHTML(w.Name),
		Handle:            w.Slug,
		Permalink:         strings.TrimSpace(w.Permalink),
		SKU:               strings.TrimSpace(w.SKU),
		StockQuantity:     w.StockQuantity,
		UpdatedAtRemote:   parseTime(w.DateModifiedGMT, "2006-01-02T15:04:05", "2006-01-02T15:04:05Z07:00"),
	}
	p.Price = parsePrice(string(w.Price))
	if p.Price == nil {
		p.Price = parsePrice(string(w.RegularPrice))
	}

	// onbackorder is still purchasable.
	switch strings.ToLower(strings.TrimSpace(w.StockStatus)) {
	case "instock", "onbackorder":
		p.StockStatus = stockPtr(catalog.StockInStock)
	case "outofstock":
		p.StockStatus = stockPtr(catalog.StockOutOfStock)
	}

	desc := StripHTML(w.Description)
	if desc == "" {
		desc = StripHTML(w.ShortDescription)
	}
	p.Description = desc

	cats := make([]string, 0, len(w.Categories))
	for _, c := range w.Categories {
		cats = append(cats, StripHTML(c.Name))
	}
	p.Categories = jsonStrings(cats)

	tags := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		tags = append(tags, StripHTML(t.Name))
	}
	p.Tags = jsonStrings(tags)

	if len(w.Brands) > 0 {
		p.Vendor = StripHTML(w.Brands[0].Name)
	}
	for _, img := range w.Images {
		if src := strings.TrimSpace(img.Src); src != "" {
			p.ImageURL = src
			break
		}
	}
	return p, nil
}
