package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

// InitProvider replaces the global providers, so this test is not parallel.
func TestInitProvider_ServesMetrics(t *testing.T) {
	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordJob(context.Background(), "ok")

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "parley_jobs_total") {
		t.Errorf("scrape output does not contain parley_jobs_total:\n%s", body)
	}
	if !strings.Contains(string(body), `outcome="ok"`) {
		t.Errorf("scrape output does not carry the outcome label:\n%s", body)
	}
}
