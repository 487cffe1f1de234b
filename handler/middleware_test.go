package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/eleflea/sense-voice-recognizer/store"
)

func TestBearerAuth(t *testing.T) {
	asr := NewASRHandler(&fakeScheduler{}, &fakeDecoder{}, nil, testConfig(), nil)
	jobs := NewJobHandler(store.NewMemoryStore(time.Hour))
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		token      string
		path       string
		header     string
		wantStatus int
	}{
		{"auth disabled", "", "/jobs", "", http.StatusOK},
		{"missing header", "secret", "/jobs", "", http.StatusForbidden},
		{"wrong token", "secret", "/jobs", "Bearer nope", http.StatusForbidden},
		{"wrong scheme", "secret", "/jobs", "Basic secret", http.StatusForbidden},
		{"valid token", "secret", "/jobs", "Bearer secret", http.StatusOK},
		{"health is public", "secret", "/health", "", http.StatusOK},
		{"metrics needs token", "secret", "/metrics", "", http.StatusForbidden},
		{"metrics with token", "secret", "/metrics", "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(asr, jobs, RouterConfig{BearerToken: tt.token, MetricsHandler: metricsHandler})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusForbidden {
				assert.Equal(t, msgForbidden, w.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	m := newCountingMetrics()
	asr := NewASRHandler(&fakeScheduler{}, &fakeDecoder{}, m, testConfig(), nil)
	jobs := NewJobHandler(store.NewMemoryStore(time.Hour))
	r := NewRouter(asr, jobs, RouterConfig{
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
		Metrics: m,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, m.rejected["rate_limit"])

	// Health checks never consume tokens.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
