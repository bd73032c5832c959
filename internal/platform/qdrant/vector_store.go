package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/platform/ctxutil"
	"github.com/yungbote/catalog-sync-backend/internal/platform/httpx"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
)

const (
	payloadIntegrationKey = "integration_id"
	payloadExternalIDKey  = "external_id"
	maxErrorBodyBytes     = 1024
)

var pointIDNamespace = uuid.MustParse("6b1d0c1e-5a43-4f0e-9c55-2f3b7d4a9e10")

// VectorStore mirrors product vectors into one Qdrant collection, scoping
// every point by integration id in its payload.
type VectorStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

var _ vectorindex.Index = (*VectorStore)(nil)

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewVectorStore(ctx context.Context, log *logger.Logger, cfg Config) (*VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	s := newVectorStore(log, cfg, &http.Client{Timeout: cfg.Timeout})
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	log.Info("Qdrant vector index selected",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func newVectorStore(log *logger.Logger, cfg Config, hc *http.Client) *VectorStore {
	return &VectorStore{
		log:     log.With("index", "QdrantVectorStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    hc,
	}
}

func (s *VectorStore) Upsert(ctx context.Context, integrationID uuid.UUID, points []vectorindex.Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		extID := strings.TrimSpace(p.ExternalID)
		if extID == "" {
			return opErr(op, OperationErrorValidation, "external id is required", nil)
		}
		if len(p.Vector) != s.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q dimension mismatch: expected=%d got=%d", extID, s.cfg.VectorDim, len(p.Vector)), nil)
		}
		body = append(body, map[string]any{
			"id":     s.pointID(integrationID, extID),
			"vector": p.Vector,
			"payload": map[string]any{
				payloadIntegrationKey: integrationID.String(),
				payloadExternalIDKey:  extID,
			},
		})
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

func (s *VectorStore) Query(ctx context.Context, integrationID uuid.UUID, vec []float32, topK int) ([]vectorindex.Match, error) {
	const op = "query"
	if len(vec) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if len(vec) != s.cfg.VectorDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(vec)), nil)
	}
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vec,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
		"filter":       integrationFilter(integrationID),
	}
	var raw []qdrantSearchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		return nil, err
	}
	out := make([]vectorindex.Match, 0, len(raw))
	for _, item := range raw {
		id, _ := item.Payload[payloadExternalIDKey].(string)
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		out = append(out, vectorindex.Match{ExternalID: id, Score: item.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *VectorStore) Delete(ctx context.Context, integrationID uuid.UUID, externalIDs []string) error {
	const op = "delete"
	ids := make([]string, 0, len(externalIDs))
	seen := make(map[string]struct{}, len(externalIDs))
	for _, id := range externalIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		pid := s.pointID(integrationID, id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		ids = append(ids, pid)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": ids}, nil)
}

func (s *VectorStore) ensureCollection(ctx context.Context) error {
	const op = "bootstrap_verify"
	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result)
	var oe *OperationError
	if errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound && s.cfg.CreateCollection {
		s.log.Info("Creating qdrant collection", "collection", s.cfg.Collection, "vector_dim", s.cfg.VectorDim)
		create := map[string]any{
			"vectors": map[string]any{"size": s.cfg.VectorDim, "distance": "Cosine"},
		}
		if err := s.doJSON(ctx, "create_collection", http.MethodPut, s.collectionPath(""), create, nil); err != nil {
			return err
		}
		index := map[string]any{"field_name": payloadIntegrationKey, "field_schema": "keyword"}
		return s.doJSON(ctx, "create_index", http.MethodPut, s.collectionPath("/index?wait=true"), index, nil)
	}
	if err != nil {
		return err
	}
	if size := result.Config.Params.Vectors.Size; size != 0 && size != s.cfg.VectorDim {
		return opErr(op, OperationErrorValidation,
			fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d", s.cfg.Collection, s.cfg.VectorDim, size), nil)
	}
	if d := result.Config.Params.Vectors.Distance; d != "" && !strings.EqualFold(d, "cosine") {
		return opErr(op, OperationErrorValidation,
			fmt.Sprintf("collection %q uses %s distance; cosine required", s.cfg.Collection, d), nil)
	}
	return nil
}

func (s *VectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorRequestFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("body=%q", httpx.TruncateBody(raw, maxErrorBodyBytes)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if msg := parseEnvelopeStatus(envelope.Status); msg != "" {
		return &OperationError{Code: OperationErrorRequestFailed, Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.EqualFold(str, "ok") || strings.EqualFold(str, "acknowledged") || strings.EqualFold(str, "completed") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", str)
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}
	return "qdrant status=" + status
}

func integrationFilter(integrationID uuid.UUID) map[string]any {
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   payloadIntegrationKey,
				"match": map[string]any{"value": integrationID.String()},
			},
		},
	}
}

func (s *VectorStore) pointID(integrationID uuid.UUID, externalID string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(integrationID.String()+"|"+externalID)).String()
}

func (s *VectorStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}
