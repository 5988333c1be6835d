package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scraperJobsTotal == nil || scraperJobDurationSeconds == nil ||
		scraperItemsSavedTotal == nil || scraperRetriesTotal == nil ||
		scraperActiveWorkers == nil || scraperFetchBytesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveJob(t *testing.T) {
	Init()

	before := testutil.ToFloat64(scraperJobsTotal.WithLabelValues("navigation", "completed"))
	ObserveJob("navigation", "completed", 150*time.Millisecond)
	after := testutil.ToFloat64(scraperJobsTotal.WithLabelValues("navigation", "completed"))
	if after != before+1 {
		t.Errorf("expected scraper_jobs_total to increase by 1, got %f -> %f", before, after)
	}
	if val := testutil.CollectAndCount(scraperJobDurationSeconds); val <= 0 {
		t.Errorf("expected scraper_job_duration_seconds to be observed, got %d", val)
	}
}

func TestObserveItemsSavedIgnoresZero(t *testing.T) {
	Init()

	before := testutil.ToFloat64(scraperItemsSavedTotal.WithLabelValues("product"))
	ObserveItemsSaved("product", 0)
	if got := testutil.ToFloat64(scraperItemsSavedTotal.WithLabelValues("product")); got != before {
		t.Errorf("expected zero saves to be skipped, got %f -> %f", before, got)
	}
	ObserveItemsSaved("product", 3)
	if got := testutil.ToFloat64(scraperItemsSavedTotal.WithLabelValues("product")); got != before+3 {
		t.Errorf("expected counter to advance by 3, got %f -> %f", before, got)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()

	before := testutil.ToFloat64(scraperActiveWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(scraperActiveWorkers); got != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, got)
	}
	DecActiveWorkers()
}
