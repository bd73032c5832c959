package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StockStatus string

const (
	StockInStock    StockStatus = "instock"
	StockOutOfStock StockStatus = "outofstock"
)

// Product is the normalized local mirror of one upstream catalog item,
// unique per (integration_id, external_product_id).
type Product struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	IntegrationID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_product_integration_external,priority:1" json:"integration_id"`
	ExternalProductID string         `gorm:"column:external_product_id;not null;uniqueIndex:idx_product_integration_external,priority:2" json:"external_product_id"`
	Name              string         `gorm:"column:name;not null" json:"name"`
	Handle            string         `gorm:"column:handle" json:"handle,omitempty"`
	Permalink         string         `gorm:"column:permalink" json:"permalink,omitempty"`
	Price             *float64       `gorm:"column:price" json:"price,omitempty"`
	Currency          string         `gorm:"column:currency" json:"currency,omitempty"`
	SKU               string         `gorm:"column:sku" json:"sku,omitempty"`
	StockStatus       *StockStatus   `gorm:"column:stock_status" json:"stock_status,omitempty"`
	StockQuantity     *int           `gorm:"column:stock_quantity" json:"stock_quantity,omitempty"`
	Vendor            string         `gorm:"column:vendor" json:"vendor,omitempty"`
	Categories        datatypes.JSON `gorm:"column:categories;type:jsonb" json:"categories"`
	Tags              datatypes.JSON `gorm:"column:tags;type:jsonb" json:"tags"`
	Description       string         `gorm:"column:description;type:text" json:"description,omitempty"`
	ImageURL          string         `gorm:"column:image_url" json:"image_url,omitempty"`
	RawPayload        datatypes.JSON `gorm:"column:raw_payload;type:jsonb" json:"-"`
	UpdatedAtRemote   *time.Time     `gorm:"column:updated_at_remote;index" json:"updated_at_remote,omitempty"`
	Embedding         Embedding      `gorm:"column:embedding;type:jsonb" json:"-"`
	EmbeddingModel    string         `gorm:"column:embedding_model" json:"embedding_model,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string { return "product" }

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// CategoryNames decodes the categories column; malformed JSON yields nil.
func (p *Product) CategoryNames() []string {
	return decodeStrings(p.Categories)
}

func (p *Product) TagNames() []string {
	return decodeStrings(p.Tags)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// Embedding is a dense vector persisted as a JSON array. A nil Embedding is
// stored as SQL NULL and excludes the row from vector search.
type Embedding []float32

func (e Embedding) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float32(e))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *Embedding) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("embedding: unsupported scan type %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*e = nil
		return nil
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	*e = out
	return nil
}
