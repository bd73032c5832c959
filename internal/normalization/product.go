package normalization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/catalog-sync-backend/internal/domain/catalog"
)

const DefaultDescriptionLimit = 1000

// Normalizer maps platform payloads onto the canonical product record.
type Normalizer struct {
	// DescriptionLimit bounds the description carried into the embedding input.
	DescriptionLimit int
}

func New() *Normalizer {
	return &Normalizer{DescriptionLimit: DefaultDescriptionLimit}
}

// Normalize decodes one raw upstream item for the given integration. The raw
// payload is retained on the record.
func (n *Normalizer) Normalize(in *catalog.Integration, raw json.RawMessage) (*catalog.Product, error) {
	if in == nil {
		return nil, fmt.Errorf("normalize: integration required")
	}
	var (
		p   *catalog.Product
		err error
	)
	switch in.Platform {
	case catalog.PlatformWooCommerce:
		p, err = normalizeWooCommerce(raw)
	case catalog.PlatformShopify:
		p, err = normalizeShopify(in, raw)
	default:
		return nil, fmt.Errorf("normalize: unknown platform %q", in.Platform)
	}
	if err != nil {
		return nil, err
	}
	if p.ExternalProductID == "" {
		return nil, fmt.Errorf("normalize: %s item without id", in.Platform)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("normalize: %s item %s without name", in.Platform, p.ExternalProductID)
	}
	p.IntegrationID = in.ID
	if p.Currency == "" {
		p.Currency = in.Currency
	}
	p.RawPayload = datatypes.JSON(bytes.Clone(raw))
	return p, nil
}

// EmbeddingText is the deterministic text a product is embedded from.
// Unchanged products produce identical text and therefore hit the cache.
func (n *Normalizer) EmbeddingText(p *catalog.Product) string {
	if p == nil {
		return ""
	}
	limit := n.DescriptionLimit
	if limit <= 0 {
		limit = DefaultDescriptionLimit
	}
	var lines []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Name", p.Name)
	add("Category", strings.Join(p.CategoryNames(), ", "))
	add("Vendor", p.Vendor)
	add("Tags", strings.Join(p.TagNames(), ", "))
	if p.Price != nil {
		add("Price", strings.TrimSpace(strconv.FormatFloat(*p.Price, 'f', 2, 64)+" "+p.Currency))
	}
	add("SKU", p.SKU)
	if p.StockStatus != nil {
		add("Availability", string(*p.StockStatus))
	}
	add("Description", Truncate(p.Description, limit))
	return strings.Join(lines, "\n")
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*f = flexString(num.String())
	return nil
}

func parsePrice(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseTime(s string, layouts ...string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func jsonStrings(values []string) datatypes.JSON {
	clean := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(v)]; ok {
			continue
		}
		seen[strings.ToLower(v)] = struct{}{}
		clean = append(clean, v)
	}
	b, _ := json.Marshal(clean)
	return datatypes.JSON(b)
}

func stockPtr(s catalog.StockStatus) *catalog.StockStatus { return &s }
