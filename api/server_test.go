package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/docutag/lincat"
	"github.com/docutag/lincat/auth"
	"github.com/docutag/lincat/db"
	"github.com/docutag/lincat/llm"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/models"
	"github.com/docutag/lincat/storage"
)

const testSecret = "test-jwt-secret-with-enough-entropy-123"

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type staticExtractor struct {
	meta models.PageMetadata
}

func (e staticExtractor) Extract(context.Context, string) models.PageMetadata { return e.meta }

type testEnv struct {
	server *Server
	db     *db.DB
}

type option func(*Config, *Deps)

func withVerifier(c *Config, d *Deps) { d.Verifier = auth.NewVerifier(testSecret, "") }

func withoutArchive(c *Config, d *Deps) { d.Archive = nil }

func withLogger(log logger.Logger) option {
	return func(c *Config, d *Deps) { d.Logger = log }
}

func withRateLimit(burst int) option {
	return func(c *Config, d *Deps) { c.RateLimit = RateLimitConfig{Burst: burst, RefillPerMin: 1} }
}

func setupTestServer(t *testing.T, opts ...option) *testEnv {
	t.Helper()

	database, err := db.New(db.Config{Driver: db.DriverSQLite, DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	archive, err := storage.New(storage.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}

	log := logger.NewNop()
	m := metrics.New("lincat", prometheus.NewRegistry())
	categorizer, err := lincat.New(lincat.Deps{
		Store:      database,
		Extractor:  staticExtractor{},
		Classifier: llm.New(nil, llm.DefaultConfig(), log, m),
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		t.Fatalf("Failed to create categorizer: %v", err)
	}

	config := DefaultConfig()
	config.Addr = ":0"
	config.CORSEnabled = true
	config.RateLimit = RateLimitConfig{Burst: 100, RefillPerMin: 100}
	deps := Deps{
		Store:       database,
		Categorizer: categorizer,
		Archive:     archive,
		Logger:      log,
		Metrics:     m,
		Now:         func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&config, &deps)
	}

	server, err := NewServer(config, deps)
	if err != nil {
		t.Fatalf("Failed to create test server: %v", err)
	}
	return &testEnv{server: server, db: database}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) categorize(t *testing.T, input, token string) models.LinkView {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/categorize", map[string]string{"input": input}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("categorize %q: status %d, body %s", input, rec.Code, rec.Body.String())
	}
	var resp models.CategorizeResponse
	decode(t, rec, &resp)
	if !resp.Success {
		t.Fatalf("categorize %q: success=false", input)
	}
	return resp.Link
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["error"]
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", body["status"])
	}

	env.db.Close()
	rec = env.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 after close, got %d", rec.Code)
	}
}

func TestHandleCategorizeURL(t *testing.T) {
	env := setupTestServer(t)

	link := env.categorize(t, "look at https://github.com/acme/widget later", "")

	if link.URL != "https://github.com/acme/widget" {
		t.Errorf("URL = %q", link.URL)
	}
	if link.Title != "acme/widget - GitHub Repository" {
		t.Errorf("Title = %q", link.Title)
	}
	if link.Category != "Code Repositories" {
		t.Errorf("Category = %q", link.Category)
	}
	if link.OriginalInput != "look at https://github.com/acme/widget later" {
		t.Errorf("OriginalInput = %q", link.OriginalInput)
	}
	if link.ID == "" || link.AIDescription == "" {
		t.Errorf("expected id and ai description, got %+v", link)
	}
}

func TestHandleCategorizeNoteFallsBack(t *testing.T) {
	env := setupTestServer(t)

	link := env.categorize(t, "call grandma about the weekend", "")

	if link.Category != "Personal Notes" {
		t.Errorf("Category = %q, want Personal Notes", link.Category)
	}
	if link.URL != "" {
		t.Errorf("URL = %q, want empty for a note", link.URL)
	}
	if link.Description != "call grandma about the weekend" {
		t.Errorf("Description = %q", link.Description)
	}
}

func TestHandleCategorizeValidation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing input", `{}`},
		{"empty input", `{"input":""}`},
		{"whitespace input", `{"input":"   \n\t"}`},
		{"non-string input", `{"input":42}`},
		{"null input", `{"input":null}`},
		{"malformed body", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/categorize", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected status 400, got %d (%s)", rec.Code, rec.Body.String())
			}
			if msg := errorMessage(t, rec); msg != lincat.ErrInvalidInput.Error() {
				t.Errorf("error = %q", msg)
			}
		})
	}

	count, err := env.db.Count(context.Background(), "")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected requests stored %d links", count)
	}
}

func TestHandleCategorizeStorageFailure(t *testing.T) {
	env := setupTestServer(t)
	env.db.Close()

	rec := env.do(t, http.MethodPost, "/api/categorize", map[string]string{"input": "a note"}, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}

	var body map[string]string
	decode(t, rec, &body)
	if body["error"] != "Failed to categorize content" {
		t.Errorf("error = %q", body["error"])
	}
	if body["details"] == "" {
		t.Error("expected details in 500 response")
	}
}

func TestHandleCategoriesAndSearch(t *testing.T) {
	env := setupTestServer(t)

	env.categorize(t, "todo: renew passport", "")
	env.categorize(t, "grandma's pasta recipe with extra garlic", "")
	env.categorize(t, "reminder: dentist on friday", "")

	rec := env.do(t, http.MethodGet, "/api/categories", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var categories []models.CategoryWithLinks
	decode(t, rec, &categories)

	counts := map[string]int{}
	for _, c := range categories {
		counts[c.Name] = c.LinkCount
		if len(c.Links) != c.LinkCount {
			t.Errorf("%s: link_count %d but %d links", c.Name, c.LinkCount, len(c.Links))
		}
		if c.Slug == "" {
			t.Errorf("%s: empty slug", c.Name)
		}
	}
	if counts["Tasks & Reminders"] != 2 || counts["Recipes & Cooking"] != 1 || len(counts) != 2 {
		t.Errorf("unexpected categories %v", counts)
	}

	rec = env.do(t, http.MethodGet, "/api/search?q=PASTA", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var results []models.SearchResult
	decode(t, rec, &results)
	if len(results) != 1 || results[0].CategoryName != "Recipes & Cooking" {
		t.Errorf("unexpected search results %+v", results)
	}

	rec = env.do(t, http.MethodGet, "/api/search?q=nothing-matches", nil, "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", rec.Body.String())
	}
}

func TestHandleDeleteCategoryCascades(t *testing.T) {
	env := setupTestServer(t)

	link := env.categorize(t, "todo: water the plants", "")

	rec := env.do(t, http.MethodGet, "/api/categories", nil, "")
	var categories []models.CategoryWithLinks
	decode(t, rec, &categories)
	if len(categories) != 1 {
		t.Fatalf("expected one category, got %d", len(categories))
	}
	categoryID := categories[0].ID

	if rec := env.do(t, http.MethodGet, "/api/links/"+link.ID, nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("link lookup before delete: %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/categories/"+categoryID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["success"] != true {
		t.Errorf("expected success, got %v", body)
	}

	if rec := env.do(t, http.MethodGet, "/api/links/"+link.ID, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("link after category delete: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/categories/"+categoryID, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestHandleDeleteLink(t *testing.T) {
	env := setupTestServer(t)
	link := env.categorize(t, "just a thought", "")

	rec := env.do(t, http.MethodDelete, "/api/links/"+link.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/links/"+link.ID, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestUnknownAPIEndpoint(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/does-not-exist", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "API endpoint not found" {
		t.Errorf("error = %q", msg)
	}
}

func TestExportRoundTrip(t *testing.T) {
	env := setupTestServer(t)
	env.categorize(t, "todo: file taxes", "")

	rec := env.do(t, http.MethodPost, "/api/export", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var saved struct {
		Success bool   `json:"success"`
		Key     string `json:"key"`
	}
	decode(t, rec, &saved)
	if want := storage.ExportKey(models.LocalOwner, fixedNow); saved.Key != want {
		t.Errorf("key = %q, want %q", saved.Key, want)
	}

	rec = env.do(t, http.MethodGet, "/api/exports/"+saved.Key, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 reading export, got %d", rec.Code)
	}
	var export models.Export
	decode(t, rec, &export)
	if export.Owner != models.LocalOwner || len(export.Categories) != 1 {
		t.Errorf("unexpected export %+v", export)
	}

	for _, path := range []string{
		"/api/exports/exports/someone-else/x.json",
		"/api/exports/exports/local/missing.json",
		"/api/exports/exports/local/../someone-else/x.json",
	} {
		if rec := env.do(t, http.MethodGet, path, nil, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestDeleteExport(t *testing.T) {
	env := setupTestServer(t)
	env.categorize(t, "todo: file taxes", "")

	rec := env.do(t, http.MethodPost, "/api/export", nil, "")
	var saved struct {
		Key string `json:"key"`
	}
	decode(t, rec, &saved)

	rec = env.do(t, http.MethodDelete, "/api/exports/"+saved.Key, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 deleting export, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/api/exports/"+saved.Key, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("export still readable after delete: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/exports/"+saved.Key, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/exports/exports/someone-else/x.json", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("deleting another owner's export: expected 404, got %d", rec.Code)
	}
}

func TestAccessLogCoversRejectedRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	env := setupTestServer(t, withVerifier, withLogger(logger.Wrap(zap.New(core))))

	if rec := env.do(t, http.MethodGet, "/api/categories", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rec.Code)
	}
	entries := logs.FilterMessage("http_request").AllUntimed()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry for the rejected request, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusUnauthorized) {
		t.Errorf("status field = %v, want 401", fields["status"])
	}
	if _, ok := fields["owner"]; ok {
		t.Errorf("rejected request should carry no owner, got %v", fields["owner"])
	}

	alice, err := auth.GenerateToken("alice", testSecret, "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	env.do(t, http.MethodGet, "/api/categories", nil, alice)
	entries = logs.FilterMessage("http_request").AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected two access log entries, got %d", len(entries))
	}
	if owner := entries[1].ContextMap()["owner"]; owner != "alice" {
		t.Errorf("owner field = %v, want alice", owner)
	}
}

func TestExportDisabledWithoutArchive(t *testing.T) {
	env := setupTestServer(t, withoutArchive)

	rec := env.do(t, http.MethodPost, "/api/export", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestAuthScopesDataPerOwner(t *testing.T) {
	env := setupTestServer(t, withVerifier)

	alice, err := auth.GenerateToken("alice", testSecret, "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	bob, err := auth.GenerateToken("bob", testSecret, "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if rec := env.do(t, http.MethodGet, "/api/categories", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/categories", nil, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}

	link := env.categorize(t, "todo: alice's secret plan", alice)

	rec := env.do(t, http.MethodGet, "/api/categories", nil, bob)
	var categories []models.CategoryWithLinks
	decode(t, rec, &categories)
	if len(categories) != 0 {
		t.Errorf("bob sees alice's categories: %+v", categories)
	}
	if rec := env.do(t, http.MethodGet, "/api/links/"+link.ID, nil, bob); rec.Code != http.StatusNotFound {
		t.Errorf("bob fetching alice's link: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/links/"+link.ID, nil, bob); rec.Code != http.StatusNotFound {
		t.Errorf("bob deleting alice's link: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/links/"+link.ID, nil, alice); rec.Code != http.StatusOK {
		t.Errorf("alice fetching own link: expected 200, got %d", rec.Code)
	}

	// Health stays public.
	if rec := env.do(t, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("health with auth enabled: expected 200, got %d", rec.Code)
	}
}

func TestCategorizeRateLimit(t *testing.T) {
	env := setupTestServer(t, withRateLimit(2))

	env.categorize(t, "first note", "")
	env.categorize(t, "second note", "")

	rec := env.do(t, http.MethodPost, "/api/categorize", map[string]string{"input": "third note"}, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Reads are not limited.
	if rec := env.do(t, http.MethodGet, "/api/categories", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("categories after limit: expected 200, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodOptions, "/api/categorize", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Errorf("Authorization not in allowed headers: %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.categorize(t, "todo: check metrics", "")

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `lincat_categorizations_total{source="heuristic"} 1`) {
		t.Errorf("expected heuristic counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	if _, err := NewServer(DefaultConfig(), Deps{}); err == nil {
		t.Error("expected error without store")
	}
}
