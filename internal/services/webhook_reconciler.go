package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/data/repos"
	types "github.com/yungbote/catalog-sync-backend/internal/domain"
	"github.com/yungbote/catalog-sync-backend/internal/normalization"
	"github.com/yungbote/catalog-sync-backend/internal/observability"
	apperrors "github.com/yungbote/catalog-sync-backend/internal/pkg/errors"
	"github.com/yungbote/catalog-sync-backend/internal/platform/dbctx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

var signatureHeaders = []string{"X-Shopify-Hmac-Sha256", "X-WC-Webhook-Signature", "X-Webhook-Signature"}

var topicHeaders = []string{"X-Shopify-Topic", "X-WC-Webhook-Topic"}

var (
	updateTopics = map[string]bool{
		"products/create":  true,
		"products/update":  true,
		"product.created":  true,
		"product.updated":  true,
		"product.restored": true,
	}
	deleteTopics = map[string]bool{
		"products/delete": true,
		"product.deleted": true,
	}
)

type WebhookRequest struct {
	IntegrationID uuid.UUID
	Token         string
	Body          []byte
	Headers       http.Header
}

type WebhookOutcome struct {
	OK      bool   `json:"ok"`
	Updated string `json:"updated,omitempty"`
	Deleted string `json:"deleted,omitempty"`
	Ignored bool   `json:"ignored,omitempty"`
}

// WebhookReconciler applies single-product change notifications. It never
// touches full-sync status.
type WebhookReconciler interface {
	Apply(ctx context.Context, req WebhookRequest) (WebhookOutcome, error)
}

type webhookReconciler struct {
	log             *logger.Logger
	integrationRepo repos.IntegrationRepo
	resolver        CredentialResolver
	syncs           CatalogSyncService
	globalSecret    string
}

func NewWebhookReconciler(log *logger.Logger, integrationRepo repos.IntegrationRepo, resolver CredentialResolver, syncs CatalogSyncService, globalSecret string) WebhookReconciler {
	return &webhookReconciler{
		log:             log.With("service", "WebhookReconciler"),
		integrationRepo: integrationRepo,
		resolver:        resolver,
		syncs:           syncs,
		globalSecret:    strings.TrimSpace(globalSecret),
	}
}

func (w *webhookReconciler) Apply(ctx context.Context, req WebhookRequest) (WebhookOutcome, error) {
	in, err := w.integrationRepo.GetByID(dbctx.Context{Ctx: ctx}, req.IntegrationID)
	if errors.Is(err, apperrors.ErrNotFound) {
		observability.Current().IncWebhook("unknown", "unauthorized")
		return WebhookOutcome{}, fmt.Errorf("unknown integration: %w", apperrors.ErrUnauthorized)
	}
	if err != nil {
		return WebhookOutcome{}, err
	}
	platform := string(in.Platform)

	if !tokenMatches(in.WebhookToken, req.Token) {
		observability.Current().IncWebhook(platform, "unauthorized")
		return WebhookOutcome{}, fmt.Errorf("webhook token mismatch: %w", apperrors.ErrUnauthorized)
	}
	conn, err := w.resolver.ResolveIntegration(ctx, in)
	if err != nil {
		observability.Current().IncWebhook(platform, "failed")
		return WebhookOutcome{}, err
	}
	secret := conn.WebhookSecret
	if secret == "" {
		secret = w.globalSecret
	}
	if secret != "" && !signatureValid(secret, req.Body, req.Headers) {
		observability.Current().IncWebhook(platform, "unauthorized")
		w.log.Warn("Webhook signature rejected", "integration_id", in.ID)
		return WebhookOutcome{}, fmt.Errorf("webhook signature invalid: %w", apperrors.ErrUnauthorized)
	}

	topic, externalID := parseEnvelope(req.Headers, req.Body)
	switch {
	case externalID == "":
		return w.ignored(in, topic, "missing id"), nil
	case deleteTopics[topic]:
		if _, err := w.syncs.RemoveOne(ctx, in.ID, externalID); err != nil {
			observability.Current().IncWebhook(platform, "failed")
			return WebhookOutcome{}, fmt.Errorf("delete product %s: %w", externalID, err)
		}
		observability.Current().IncWebhook(platform, "deleted")
		w.log.Info("Webhook removed product", "integration_id", in.ID, "external_id", externalID, "topic", topic)
		return WebhookOutcome{OK: true, Deleted: externalID}, nil
	case updateTopics[topic]:
		_, err := w.syncs.RefreshOne(ctx, conn, externalID)
		if errors.Is(err, apperrors.ErrProductGone) {
			observability.Current().IncWebhook(platform, "deleted")
			return WebhookOutcome{OK: true, Deleted: externalID}, nil
		}
		if err != nil {
			observability.Current().IncWebhook(platform, "failed")
			return WebhookOutcome{}, err
		}
		observability.Current().IncWebhook(platform, "updated")
		w.log.Info("Webhook refreshed product", "integration_id", in.ID, "external_id", externalID, "topic", topic)
		return WebhookOutcome{OK: true, Updated: externalID}, nil
	default:
		return w.ignored(in, topic, "unhandled topic"), nil
	}
}

func (w *webhookReconciler) ignored(in *types.Integration, topic, reason string) WebhookOutcome {
	observability.Current().IncWebhook(string(in.Platform), "ignored")
	w.log.Debug("Webhook ignored", "integration_id", in.ID, "topic", topic, "reason", reason)
	return WebhookOutcome{OK: true, Ignored: true}
}

func tokenMatches(stored, given string) bool {
	if stored == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func signatureValid(secret string, body []byte, headers http.Header) bool {
	var sig string
	for _, h := range signatureHeaders {
		if sig = strings.TrimSpace(headers.Get(h)); sig != "" {
			break
		}
	}
	if sig == "" {
		return false
	}
	given, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

type webhookEnvelope struct {
	Topic string          `json:"topic"`
	ID    json.RawMessage `json:"id"`
}

// parseEnvelope returns the normalized topic and the product id. WooCommerce
// ping bodies are form-encoded and yield no id.
func parseEnvelope(headers http.Header, body []byte) (string, string) {
	var topic string
	for _, h := range topicHeaders {
		if topic = headers.Get(h); topic != "" {
			break
		}
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return normalization.ParseKey(topic), ""
	}
	var env webhookEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return normalization.ParseKey(topic), ""
	}
	if topic == "" {
		topic = env.Topic
	}
	return normalization.ParseKey(topic), rawID(env.ID)
}

func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}
