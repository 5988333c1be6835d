package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/catalog"
	"github.com/shelfscout/scraper/internal/dispatcher"
	"github.com/shelfscout/scraper/internal/metrics"
	queuememory "github.com/shelfscout/scraper/internal/queue/memory"
	storagememory "github.com/shelfscout/scraper/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("job-%04d", g.next), nil
}

type testServer struct {
	ts       *httptest.Server
	jobStore *storagememory.JobStore
	repos    catalog.Repositories
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clk := newFakeClock()
	jobStore := storagememory.NewJobStore(clk)
	queue := queuememory.NewQueue(clk)
	t.Cleanup(queue.Close)
	repos := storagememory.NewCatalogStore(clk).Repositories()
	disp := dispatcher.New(jobStore, queue, &seqIDGen{}, clk, nil, dispatcher.Config{}, zap.NewNop())
	srv := NewServer(jobStore, disp, repos, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, jobStore: jobStore, repos: repos}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func submitBody(targetURL, targetType string) map[string]any {
	return map[string]any{"target_url": targetURL, "target_type": targetType}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	status, body = s.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body["status"])
}

func TestSubmitJob(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/", "navigation"))
	require.Equal(t, http.StatusAccepted, status)
	job := body["job"].(map[string]any)
	require.Equal(t, "pending", job["status"])
	require.NotEmpty(t, job["id"])

	status, stats := s.do(t, http.MethodGet, "/v1/scrape/queue/stats", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), stats["waiting"])
	require.Equal(t, float64(1), stats["total"])
}

func TestSubmitJobValidation(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/", "sitemap"))
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["error"], "sitemap")

	status, _ = s.do(t, http.MethodPost, "/v1/scrape", submitBody("", "navigation"))
	require.Equal(t, http.StatusBadRequest, status)
}

func TestGetJob(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/", "navigation"))
	jobID := body["job"].(map[string]any)["id"].(string)

	status, body := s.do(t, http.MethodGet, "/v1/scrape/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, jobID, body["job"].(map[string]any)["id"])

	status, _ = s.do(t, http.MethodGet, "/v1/scrape/jobs/missing", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, body := s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/a", "navigation"))
	jobID := body["job"].(map[string]any)["id"].(string)
	s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/b", "category"))
	_, err := s.jobStore.MarkRunning(ctx, jobID)
	require.NoError(t, err)

	status, body := s.do(t, http.MethodGet, "/v1/scrape/jobs", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["jobs"], 2)

	status, body = s.do(t, http.MethodGet, "/v1/scrape/jobs?status=running", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["jobs"], 1)

	status, _ = s.do(t, http.MethodGet, "/v1/scrape/jobs?status=sleeping", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/v1/scrape/jobs?limit=nope", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestRetryJob(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, body := s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/", "navigation"))
	jobID := body["job"].(map[string]any)["id"].(string)

	// Retrying a pending job conflicts with the lifecycle.
	status, _ := s.do(t, http.MethodPost, "/v1/scrape/jobs/"+jobID+"/retry", nil)
	require.Equal(t, http.StatusConflict, status)

	_, err := s.jobStore.MarkRunning(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, s.jobStore.MarkFailed(ctx, jobID, "boom", nil))

	status, body = s.do(t, http.MethodPost, "/v1/scrape/jobs/"+jobID+"/retry", nil)
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, "pending", body["job"].(map[string]any)["status"])

	status, _ = s.do(t, http.MethodPost, "/v1/scrape/jobs/missing/retry", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(t, http.MethodPost, "/v1/scrape", submitBody("https://example.com/", "navigation"))
	jobID := body["job"].(map[string]any)["id"].(string)

	status, body := s.do(t, http.MethodPost, "/v1/scrape/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "cancelled", body["status"])

	status, body = s.do(t, http.MethodGet, "/v1/scrape/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "cancelled", body["job"].(map[string]any)["status"])

	// Cancelling again is a harmless no-op.
	status, _ = s.do(t, http.MethodPost, "/v1/scrape/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
}

func seedCatalog(t *testing.T, repos catalog.Repositories) (catalog.Navigation, catalog.Category, catalog.Product) {
	t.Helper()
	ctx := context.Background()

	nav, err := repos.Navigations.Upsert(ctx, catalog.Navigation{
		Title: "Fiction", Slug: "fiction", SourceURL: "https://example.com/fiction", IsActive: true,
	})
	require.NoError(t, err)
	cat, err := repos.Categories.Upsert(ctx, catalog.Category{
		Title: "Crime", Slug: "crime", NavigationID: &nav.ID, IsActive: true,
	})
	require.NoError(t, err)
	product, err := repos.Products.Upsert(ctx, catalog.Product{
		SourceID: "b-1", Title: "Book One", Currency: "GBP", CategoryID: &cat.ID, IsActive: true,
	})
	require.NoError(t, err)
	_, err = repos.Details.Upsert(ctx, catalog.ProductDetail{ProductID: product.ID, Description: "good"})
	require.NoError(t, err)
	rating := 5
	_, err = repos.Reviews.Append(ctx, []catalog.Review{
		{ProductID: product.ID, AuthorName: "sam", Rating: &rating, Content: "great"},
	})
	require.NoError(t, err)
	return nav, cat, product
}

func TestNavigationEndpoints(t *testing.T) {
	s := newTestServer(t)
	seedCatalog(t, s.repos)

	status, body := s.do(t, http.MethodGet, "/v1/navigations", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["navigations"], 1)

	status, body = s.do(t, http.MethodGet, "/v1/navigations/fiction", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "fiction", body["navigation"].(map[string]any)["slug"])
	require.Len(t, body["categories"], 1)

	status, _ = s.do(t, http.MethodGet, "/v1/navigations/missing", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestCategoryEndpoints(t *testing.T) {
	s := newTestServer(t)
	seedCatalog(t, s.repos)

	status, body := s.do(t, http.MethodGet, "/v1/categories/crime", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "crime", body["category"].(map[string]any)["slug"])

	status, body = s.do(t, http.MethodGet, "/v1/categories/crime/products?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["products"], 1)
	require.Equal(t, float64(1), body["total"])
	require.Equal(t, float64(10), body["limit"])
	require.Equal(t, float64(0), body["offset"])

	status, _ = s.do(t, http.MethodGet, "/v1/categories/crime/products?limit=-2", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/v1/categories/missing/products", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestGetProduct(t *testing.T) {
	s := newTestServer(t)
	seedCatalog(t, s.repos)

	status, body := s.do(t, http.MethodGet, "/v1/products/b-1", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Book One", body["product"].(map[string]any)["title"])
	require.Equal(t, "good", body["detail"].(map[string]any)["description"])
	require.Len(t, body["reviews"], 1)

	status, _ = s.do(t, http.MethodGet, "/v1/products/missing", nil)
	require.Equal(t, http.StatusNotFound, status)
}
