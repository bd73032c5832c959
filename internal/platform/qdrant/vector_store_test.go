package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
	"github.com/yungbote/catalog-sync-backend/internal/platform/vectorindex"
)

func TestVectorStoreUpsertRequestShape(t *testing.T) {
	integrationID := uuid.New()
	var captured map[string]any
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/catalog/points" || r.URL.RawQuery != "wait=true" {
			t.Fatalf("unexpected url %s", r.URL)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.Upsert(context.Background(), integrationID, []vectorindex.Point{
		{ExternalID: "101", Vector: []float32{1, 2, 3}},
		{ExternalID: "102", Vector: []float32{4, 5, 6}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok || len(points) != 2 {
		t.Fatalf("points: got=%v", captured["points"])
	}
	first := points[0].(map[string]any)
	if first["id"] != s.pointID(integrationID, "101") {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	payload := first["payload"].(map[string]any)
	if payload[payloadIntegrationKey] != integrationID.String() || payload[payloadExternalIDKey] != "101" {
		t.Fatalf("payload mismatch: %v", payload)
	}
}

func TestVectorStoreUpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestVectorStore(t, func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	err := s.Upsert(context.Background(), uuid.New(), []vectorindex.Point{{ExternalID: "1", Vector: []float32{1}}})
	var oe *OperationError
	if !errors.As(err, &oe) || oe.Code != OperationErrorValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVectorStoreQueryScopesByIntegration(t *testing.T) {
	integrationID := uuid.New()
	var captured map[string]any
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/catalog/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "p1", "score": 0.4, "payload": map[string]any{payloadExternalIDKey: "b"}},
			{"id": "p2", "score": 0.9, "payload": map[string]any{payloadExternalIDKey: "a"}},
			{"id": "p3", "score": 0.8, "payload": map[string]any{}},
		}), nil
	})

	got, err := s.Query(context.Background(), integrationID, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ExternalID != "a" || got[1].ExternalID != "b" {
		t.Fatalf("unexpected matches %+v", got)
	}
	raw, _ := json.Marshal(captured["filter"])
	want := fmt.Sprintf(`{"must":[{"key":"integration_id","match":{"value":"%s"}}]}`, integrationID)
	if string(raw) != want {
		t.Fatalf("filter: want=%s got=%s", want, raw)
	}
	if captured["limit"].(float64) != 5 {
		t.Fatalf("limit: got=%v", captured["limit"])
	}
}

func TestVectorStoreDeleteDedupes(t *testing.T) {
	integrationID := uuid.New()
	var captured map[string][]string
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/catalog/points/delete" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})
	if err := s.Delete(context.Background(), integrationID, []string{"7", " 7 ", "", "8"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(captured["points"]) != 2 || captured["points"][0] != s.pointID(integrationID, "7") {
		t.Fatalf("unexpected points %v", captured["points"])
	}
}

func TestVectorStoreHTTPErrorCarriesStatus(t *testing.T) {
	s := newTestVectorStore(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"status":{"error":"overloaded"}}`))),
		}, nil
	})
	_, err := s.Query(context.Background(), uuid.New(), []float32{1, 0, 0}, 3)
	var oe *OperationError
	if !errors.As(err, &oe) || oe.HTTPStatusCode() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 operation error, got %v", err)
	}
}

func TestEnsureCollectionCreatesMissing(t *testing.T) {
	var calls []string
	s := newTestVectorStore(t, func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodGet {
			return &http.Response{
				StatusCode: http.StatusNotFound,
				Header:     make(http.Header),
				Body:       io.NopCloser(bytes.NewReader([]byte(`{"status":{"error":"Not found"}}`))),
			}, nil
		}
		return okResponse(t, true), nil
	})
	s.cfg.CreateCollection = true
	if err := s.ensureCollection(context.Background()); err != nil {
		t.Fatalf("ensureCollection: %v", err)
	}
	want := []string{"GET /collections/catalog", "PUT /collections/catalog", "PUT /collections/catalog/index"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Fatalf("calls: want=%v got=%v", want, calls)
	}
}

func TestClassifyHTTPCallErrorTimeout(t *testing.T) {
	err := classifyHTTPCallError("query", "failed", context.DeadlineExceeded)
	var oe *OperationError
	if !errors.As(err, &oe) || oe.Code != OperationErrorTimeout {
		t.Fatalf("expected timeout code, got %v", err)
	}
	err = classifyHTTPCallError("query", "failed", errors.New("connection refused"))
	if !errors.As(err, &oe) || oe.Code != OperationErrorTransportFailed {
		t.Fatalf("expected transport code, got %v", err)
	}
}

func newTestVectorStore(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *VectorStore {
	t.Helper()
	client := &http.Client{Transport: roundTripFunc(roundTrip), Timeout: time.Second}
	return newVectorStore(newTestLogger(t), Config{URL: "http://qdrant.local", Collection: "catalog", VectorDim: 3}, client)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"result": result, "status": "ok", "time": 0.001})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
