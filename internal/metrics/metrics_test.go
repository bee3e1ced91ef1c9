package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesCounters(t *testing.T) {
	before := testutil.ToFloat64(Submissions.WithLabelValues("swap", "submitted"))
	Submissions.WithLabelValues("swap", "submitted").Inc()
	if got := testutil.ToFloat64(Submissions.WithLabelValues("swap", "submitted")); got != before+1 {
		t.Fatalf("expected counter %v, got %v", before+1, got)
	}

	srv := httptest.NewServer(Server("").Handler)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "xswap_submissions_total") {
		t.Fatalf("expected xswap_submissions_total in scrape output")
	}
}
