package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
)

type stubSubmitter struct {
	id       string
	err      error
	calls    int
	rawText  string
	metadata map[string]any
}

func (s *stubSubmitter) Submit(_ context.Context, rawText string, metadata map[string]any) (string, error) {
	s.calls++
	s.rawText = rawText
	s.metadata = metadata
	return s.id, s.err
}

func serve(t *testing.T, s Submitter, m *metrics.Metrics, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	New(s, m).Routes(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAccepted(t *testing.T) {
	sub := &stubSubmitter{id: "6f1c1b4e-6a0e-4c36-9d0c-4c4f0b5a8e11"}
	m := metrics.New(prometheus.NewRegistry())
	rec := serve(t, sub, m, http.MethodPost, "/api/v1/financial-data/submit",
		`{"raw_text":"Apple reported revenue of $90B in Q1 2024","metadata":{"source":"feed"}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sub.id, resp["request_id"])
	assert.Equal(t, "success", resp["status"])
	assert.NotEmpty(t, resp["message"])
	assert.EqualValues(t, len("Apple reported revenue of $90B in Q1 2024"), resp["metadata"].(map[string]any)["raw_text_length"])

	assert.Equal(t, "feed", sub.metadata["source"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues("accepted")))
}

func TestSubmitValidationFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"raw_text":`},
		{"missing raw_text", `{"metadata":{}}`},
		{"blank raw_text", `{"raw_text":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{id: "x"}
			rec := serve(t, sub, nil, http.MethodPost, "/api/v1/financial-data/submit", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, sub.calls)
		})
	}
}

func TestSubmitValidationReportsFields(t *testing.T) {
	rec := serve(t, &stubSubmitter{}, nil, http.MethodPost, "/api/v1/financial-data/submit", `{"raw_text":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Fields, "raw_text")
}

func TestSubmitBrokerUnavailable(t *testing.T) {
	sub := &stubSubmitter{err: apperrors.Wrap(apperrors.ErrBrokerUnavailable, errors.New("connection refused"))}
	rec := serve(t, sub, nil, http.MethodPost, "/api/v1/financial-data/submit", `{"raw_text":"text"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestSubmitInternalError(t *testing.T) {
	sub := &stubSubmitter{err: errors.New("boom")}
	rec := serve(t, sub, nil, http.MethodPost, "/api/v1/financial-data/submit", `{"raw_text":"text"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitRejectsGet(t *testing.T) {
	rec := serve(t, &stubSubmitter{}, nil, http.MethodGet, "/api/v1/financial-data/submit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(t, &stubSubmitter{}, nil, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
