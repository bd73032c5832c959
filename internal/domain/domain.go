package domain

import "github.com/yungbote/catalog-sync-backend/internal/domain/catalog"

type Platform = catalog.Platform
type SyncStatus = catalog.SyncStatus
type StockStatus = catalog.StockStatus

const (
	PlatformWooCommerce = catalog.PlatformWooCommerce
	PlatformShopify     = catalog.PlatformShopify

	SyncStatusNone    = catalog.SyncStatusNone
	SyncStatusRunning = catalog.SyncStatusRunning
	SyncStatusSuccess = catalog.SyncStatusSuccess
	SyncStatusFailed  = catalog.SyncStatusFailed

	StockInStock    = catalog.StockInStock
	StockOutOfStock = catalog.StockOutOfStock

	MaxSyncErrorLen = catalog.MaxSyncErrorLen
)

type Tenant = catalog.Tenant
type Integration = catalog.Integration
type Product = catalog.Product
type Embedding = catalog.Embedding
type Credentials = catalog.Credentials
type Connection = catalog.Connection
