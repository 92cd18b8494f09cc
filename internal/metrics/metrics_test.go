package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fundingscan/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveScan(t *testing.T) {
	Init()
	before := testutil.ToFloat64(scanRuns.WithLabelValues("success"))
	beforeErr := testutil.ToFloat64(scanRuns.WithLabelValues("error"))

	ObserveScan(models.ScanStats{Instruments: 12, CapsFound: 9, Joined: 8, Eligible: 5}, 2*time.Second, nil)
	ObserveScan(models.ScanStats{}, time.Second, errors.New("boom"))

	if got := testutil.ToFloat64(scanRuns.WithLabelValues("success")) - before; got != 1 {
		t.Fatalf("success delta = %v", got)
	}
	if got := testutil.ToFloat64(scanRuns.WithLabelValues("error")) - beforeErr; got != 1 {
		t.Fatalf("error delta = %v", got)
	}
	if got := testutil.ToFloat64(scanRecords.WithLabelValues("eligible")); got != 5 {
		t.Fatalf("eligible gauge = %v", got)
	}
}

func TestAddRetries(t *testing.T) {
	Init()
	before := testutil.ToFloat64(feedRetries.WithLabelValues("bybit"))
	AddRetries("bybit", 3)
	AddRetries("bybit", 0)
	if got := testutil.ToFloat64(feedRetries.WithLabelValues("bybit")) - before; got != 3 {
		t.Fatalf("retries delta = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	Init()
	AddRetries("coingecko", 1)
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"fundingscan_retries_total", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
