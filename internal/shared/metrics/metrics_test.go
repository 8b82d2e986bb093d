package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHandlerExposesOCRCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	IncOCRJob(OutcomeCompleted)
	IncWorkerMessage("received")
	IncProposalTransition("pending_documents", true)

	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`docverify_ocr_jobs_total{outcome="completed"}`,
		`docverify_worker_messages_total{result="received"}`,
		`docverify_proposal_transitions_total{applied="true",to="pending_documents"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in metrics output", want)
		}
	}
}
