package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"livewatch/internal/engine"
	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/observability/metrics"
	"livewatch/internal/verification"
)

type fakeEngine struct {
	mu          sync.Mutex
	results     map[string]verification.Result
	err         error
	invalidated []string
	cleared     int
	lastFilter  linkage.Filter
	groups      []linkage.Group
}

func (f *fakeEngine) ResolveActiveInput(_ context.Context, id string) (verification.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return verification.Result{}, f.err
	}
	result, ok := f.results[id]
	if !ok {
		return verification.Result{}, fmt.Errorf("%w: %s", engine.ErrChannelNotFound, id)
	}
	return result, nil
}

func (f *fakeEngine) Invalidate(_ context.Context, id string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, id)
	f.mu.Unlock()
}

func (f *fakeEngine) InvalidateAll(context.Context) {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeEngine) Linkage(_ context.Context, id string) (linkage.Graph, error) {
	if _, ok := f.results[id]; !ok {
		return linkage.Graph{}, fmt.Errorf("%w: %s", engine.ErrChannelNotFound, id)
	}
	return linkage.Graph{ChannelID: id, Flows: []linkage.FlowLink{}, CdnStreams: []linkage.CdnLink{}}, nil
}

func (f *fakeEngine) Resources(_ context.Context, filter linkage.Filter) ([]linkage.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.groups, nil
}

func newTestServer(t *testing.T, eng Engine) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := NewHandler(eng, logger)
	handler.Checks["inventory"] = func(context.Context) error { return nil }
	srv := httptest.NewServer(NewRouter(RouterConfig{Handler: handler, Logger: logger, Metrics: metrics.New()}))
	t.Cleanup(srv.Close)
	return srv
}

func mainResult(id string) verification.Result {
	inputID := "in-main"
	return verification.Result{
		ChannelID:           id,
		ChannelName:         "News",
		ActiveInput:         verification.ActiveMain,
		ActiveInputID:       &inputID,
		ActiveInputName:     &inputID,
		VerificationSources: []verification.Source{verification.SourceDirectInputQuery},
		VerificationLevel:   1,
		Message:             "main input active per DirectInputQuery",
		FailoverMode:        verification.ModeChannelFailover,
		Confidence:          verification.ConfidenceHigh,
	}
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestActiveInputReturnsResult(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{results: map[string]verification.Result{"ch-1": mainResult("ch-1")}})

	resp, err := http.Get(srv.URL + "/v1/channels/ch-1/active-input")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}
	var payload map[string]any
	decodeBody(t, resp, &payload)
	if payload["active_input"] != "main" || payload["active_input_id"] != "in-main" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestActiveInputUnknownChannelIs404(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{results: map[string]verification.Result{}})

	resp, err := http.Get(srv.URL + "/v1/channels/ch-missing/active-input")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var payload errorResponse
	decodeBody(t, resp, &payload)
	if payload.Category != categoryNotFound || !strings.Contains(payload.Error, "ch-missing") {
		t.Fatalf("unexpected error body %+v", payload)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		category string
	}{
		{name: "not found", err: fmt.Errorf("wrap: %w", engine.ErrChannelNotFound), status: http.StatusNotFound, category: categoryNotFound},
		{name: "deadline", err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, category: categoryTimeout},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError, category: categoryInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var payload errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.Category != tc.category {
				t.Fatalf("expected category %q, got %q", tc.category, payload.Category)
			}
		})
	}
}

func TestInvalidateAndClear(t *testing.T) {
	eng := &fakeEngine{results: map[string]verification.Result{}}
	srv := newTestServer(t, eng)

	resp, err := http.Post(srv.URL+"/v1/channels/ch-9/invalidate", "application/json", nil)
	if err != nil {
		t.Fatalf("POST invalidate: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/cache/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST clear: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	if len(eng.invalidated) != 1 || eng.invalidated[0] != "ch-9" || eng.cleared != 1 {
		t.Fatalf("unexpected engine calls: invalidated=%v cleared=%d", eng.invalidated, eng.cleared)
	}
}

func TestResourcesFilterAndValidation(t *testing.T) {
	eng := &fakeEngine{groups: []linkage.Group{{
		Parent:   models.Resource{ID: "ch-1", Name: "News", Service: models.ServiceChannel, Status: models.StatusRunning},
		Children: []models.Resource{},
	}}}
	srv := newTestServer(t, eng)

	resp, err := http.Get(srv.URL + "/v1/resources?service=Channel&status=running&q=news")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var payload resourcesResponse
	decodeBody(t, resp, &payload)
	if payload.Total != 1 || payload.Groups[0].Parent.ID != "ch-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	want := linkage.Filter{Service: models.ServiceChannel, Status: "running", Keyword: "news"}
	if eng.lastFilter != want {
		t.Fatalf("expected filter %+v, got %+v", want, eng.lastFilter)
	}

	resp, err = http.Get(srv.URL + "/v1/resources?service=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown service, got %d", resp.StatusCode)
	}
}

func TestHealthReportsDegradedComponent(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	handler := NewHandler(&fakeEngine{}, logger)
	handler.Checks["shared_cache"] = func(context.Context) error { return errors.New("connection refused") }

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "degraded" || len(payload.Components) != 1 || payload.Components[0].Error == "" {
		t.Fatalf("unexpected health payload %+v", payload)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set(requestIDHeader, "req-abc")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != "req-abc" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{results: map[string]verification.Result{"ch-1": mainResult("ch-1")}})
	if resp, err := http.Get(srv.URL + "/v1/channels/ch-1/active-input"); err == nil {
		resp.Body.Close()
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "livewatch_http_requests_total") {
		t.Fatalf("expected request metrics, got:\n%s", body)
	}
}
