package normalization

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
)

type shopifyVariant struct {
	Price               flexString `json:"price"`
	SKU                 string     `json:"sku"`
	InventoryQuantity   *int       `json:"inventory_quantity"`
	InventoryManagement *string    `json:"inventory_management"`
}

type shopifyProduct struct {
	ID             flexString       `json:"id"`
	Title          string           `json:"title"`
	Handle         string           `json:"handle"`
	BodyHTML       string           `json:"body_html"`
	Vendor         string           `json:"vendor"`
	ProductType    string           `json:"product_type"`
	Tags           string           `json:"tags"`
	UpdatedAt      string           `json:"updated_at"`
	OnlineStoreURL string           `json:"online_store_url"`
	Variants       []shopifyVariant `json:"variants"`
	Image          *struct {
		Src string `json:"src"`
	} `json:"image"`
	Images []struct {
		Src string `json:"src"`
	} `json:"images"`
}

func normalizeShopify(in *catalog.Integration, raw json.RawMessage) (*catalog.Product, error) {
	var s shopifyProduct
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("normalize shopify: %w", err)
	}
	p := &catalog.Product{
		ExternalProductID: string(s.ID),
		Name:              strings.TrimSpace(s.Title),
		Handle:            strings.TrimSpace(s.Handle),
		Vendor:            strings.TrimSpace(s.Vendor),
		Description:       StripHTML(s.BodyHTML),
		UpdatedAtRemote:   parseTime(s.UpdatedAt, "2006-01-02T15:04:05Z07:00"),
		Categories:        jsonStrings([]string{s.ProductType}),
		Tags:              jsonStrings(strings.Split(s.Tags, ",")),
	}

	switch {
	case strings.TrimSpace(s.OnlineStoreURL) != "":
		p.Permalink = strings.TrimSpace(s.OnlineStoreURL)
	case p.Handle != "":
		base := (&catalog.Connection{Integration: in}).BaseURL()
		p.Permalink = base + "/products/" + p.Handle
	}

	if s.Image != nil && strings.TrimSpace(s.Image.Src) != "" {
		p.ImageURL = strings.TrimSpace(s.Image.Src)
	} else {
		for _, img := range s.Images {
			if src := strings.TrimSpace(img.Src); src != "" {
				p.ImageURL = src
				break
			}
		}
	}

	applyVariants(p, s.Variants)
	return p, nil
}

// applyVariants takes the lowest variant price and the first SKU. A variant
// without inventory tracking makes the product available with unknown quantity.
func applyVariants(p *catalog.Product, variants []shopifyVariant) {
	if len(variants) == 0 {
		return
	}
	total := 0
	tracked := true
	for _, v := range variants {
		if price := parsePrice(string(v.Price)); price != nil {
			if p.Price == nil || *price < *p.Price {
				p.Price = price
			}
		}
		if p.SKU == "" {
			p.SKU = strings.TrimSpace(v.SKU)
		}
		if v.InventoryManagement == nil || strings.TrimSpace(*v.InventoryManagement) == "" {
			tracked = false
			continue
		}
		if v.InventoryQuantity != nil && *v.InventoryQuantity > 0 {
			total += *v.InventoryQuantity
		}
	}
	if !tracked {
		p.StockStatus = stockPtr(catalog.StockInStock)
		return
	}
	p.StockQuantity = &total
	if total > 0 {
		p.StockStatus = stockPtr(catalog.StockInStock)
	} else {
		p.StockStatus = stockPtr(catalog.StockOutOfStock)
	}
}
