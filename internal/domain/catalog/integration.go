package catalog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Platform string

const (
	PlatformWooCommerce Platform = "woocommerce"
	PlatformShopify     Platform = "shopify"
)

func (p Platform) Valid() bool {
	return p == PlatformWooCommerce || p == PlatformShopify
}

type SyncStatus string

const (
	SyncStatusNone    SyncStatus = "none"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// MaxSyncErrorLen bounds the failure message stored on an integration.
const MaxSyncErrorLen = 300

type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name" json:"name"`
	PublicKey string    `gorm:"column:public_key;not null;uniqueIndex" json:"public_key"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenant" }

func (t *Tenant) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Integration links a tenant to one external store. Credentials are stored
// encrypted and only decrypted by the credential resolver.
type Integration struct {
	ID                     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID               uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Platform               Platform   `gorm:"column:platform;not null;index" json:"platform"`
	StoreDomain            string     `gorm:"column:store_domain;not null" json:"store_domain"`
	EncryptedCredentials   string     `gorm:"column:encrypted_credentials;type:text" json:"-"`
	WebhookToken           string     `gorm:"column:webhook_token" json:"-"`
	EncryptedWebhookSecret string     `gorm:"column:encrypted_webhook_secret;type:text" json:"-"`
	IsActive               bool       `gorm:"column:is_active;not null;index" json:"is_active"`
	LastSyncStatus         SyncStatus `gorm:"column:last_sync_status;not null;default:'none'" json:"last_sync_status"`
	LastSyncError          string     `gorm:"column:last_sync_error" json:"last_sync_error,omitempty"`
	LastSyncAt             *time.Time `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncSuccessAt      *time.Time `gorm:"column:last_sync_success_at" json:"last_sync_success_at,omitempty"`
	ProductsIndexedCount   int64      `gorm:"column:products_indexed_count;not null;default:0" json:"products_indexed_count"`
	Currency               string     `gorm:"column:currency" json:"currency,omitempty"`
	CreatedAt              time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Integration) TableName() string { return "integration" }

func (i *Integration) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.LastSyncStatus == "" {
		i.LastSyncStatus = SyncStatusNone
	}
	return nil
}

// Searchable reports whether the local index may serve vector queries.
func (i *Integration) Searchable() bool {
	return i != nil && i.ProductsIndexedCount > 0 && i.LastSyncStatus == SyncStatusSuccess
}
