package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedSeries(t *testing.T) {
	RecordFusionAction("created")
	RecordStoryAssignment(true)
	RecordInferenceCall("similarity", "primary", 120*time.Millisecond)
	RecordInferenceFailure("similarity", "timeout")
	RecordClassification("keyword")
	RecordIngestItem("telegram", "processed")
	RecordCacheLookup("hit")
	ObserveBatchSize(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`fusion_actions_total{action="created"}`,
		`fusion_story_assignments_total{outcome="new"}`,
		`fusion_inference_failures_total{kind="timeout",task="similarity"}`,
		`fusion_classifications_total{method="keyword"}`,
		`fusion_ingest_items_total{outcome="processed",source_type="telegram"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
