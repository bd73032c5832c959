package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/secretbox"
)

// CredentialResolver turns an integration row into a ready-to-use connection
// with decrypted credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, integrationID uuid.UUID) (*types.Connection, error)
	ResolveIntegration(ctx context.Context, in *types.Integration) (*types.Connection, error)
	ResolveByPublicKey(ctx context.Context, publicKey string) (*types.Connection, error)
}

type credentialResolver struct {
	log             *logger.Logger
	tenantRepo      repos.TenantRepo
	integrationRepo repos.IntegrationRepo
	box             secretbox.Decrypter
}

// NewCredentialResolver accepts a nil box; resolution then fails with a
// missing-configuration error.
func NewCredentialResolver(log *logger.Logger, tenantRepo repos.TenantRepo, integrationRepo repos.IntegrationRepo, box secretbox.Decrypter) CredentialResolver {
	return &credentialResolver{
		log:             log.With("service", "CredentialResolver"),
		tenantRepo:      tenantRepo,
		integrationRepo: integrationRepo,
		box:             box,
	}
}

func (r *credentialResolver) Resolve(ctx context.Context, integrationID uuid.UUID) (*types.Connection, error) {
	in, err := r.integrationRepo.GetByID(dbctx.Context{Ctx: ctx}, integrationID)
	if err != nil {
		return nil, err
	}
	return r.ResolveIntegration(ctx, in)
}

func (r *credentialResolver) ResolveByPublicKey(ctx context.Context, publicKey string) (*types.Connection, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return nil, fmt.Errorf("public key required: %w", apperrors.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: ctx}
	tenant, err := r.tenantRepo.GetByPublicKey(dbc, publicKey)
	if err != nil {
		return nil, err
	}
	in, err := r.integrationRepo.GetActiveByTenant(dbc, tenant.ID)
	if err != nil {
		return nil, err
	}
	return r.ResolveIntegration(ctx, in)
}

func (r *credentialResolver) ResolveIntegration(ctx context.Context, in *types.Integration) (*types.Connection, error) {
	if in == nil {
		return nil, fmt.Errorf("integration required: %w", apperrors.ErrInvalidArgument)
	}
	if !in.IsActive {
		return nil, fmt.Errorf("integration %s is inactive: %w", in.ID, apperrors.ErrNotFound)
	}
	if !in.Platform.Valid() {
		return nil, fmt.Errorf("integration %s platform %q: %w", in.ID, in.Platform, apperrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(in.StoreDomain) == "" {
		return nil, fmt.Errorf("integration %s has no store domain: %w", in.ID, apperrors.ErrMissingConfig)
	}
	if r.box == nil {
		return nil, fmt.Errorf("%w: CREDENTIALS_ENCRYPTION_KEY", apperrors.ErrMissingConfig)
	}

	plain, err := r.box.Decrypt(in.EncryptedCredentials)
	if err != nil {
		r.log.Warn("Credential decryption failed", "integration_id", in.ID, "error", err)
		return nil, fmt.Errorf("decrypt credentials for integration %s: %w", in.ID, err)
	}
	var creds types.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("decode credentials for integration %s: %w", in.ID, err)
	}
	if err := creds.Validate(in.Platform); err != nil {
		return nil, fmt.Errorf("integration %s: %v: %w", in.ID, err, apperrors.ErrMissingConfig)
	}

	conn := &types.Connection{Integration: in, Credentials: creds}
	if strings.TrimSpace(in.EncryptedWebhookSecret) != "" {
		secret, err := r.box.Decrypt(in.EncryptedWebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt webhook secret for integration %s: %w", in.ID, err)
		}
		conn.WebhookSecret = string(secret)
	}
	return conn, nil
}
