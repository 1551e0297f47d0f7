package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/escrowd/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		LogLevel:       "error",
		FundingWindow:  24 * time.Hour,
		SweepInterval:  time.Minute,
		SweepBatchSize: 100,
		KYCPolicy:      config.KYCPolicyOff,
		RateLimitRPS:   100,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { srv.rateLimiter.Stop() })
	return srv
}

func TestServer_LivenessAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "escrowd_")
}

func TestServer_ReadinessBeforeRun(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "not ready until Run has started")
}

func TestServer_HealthReportsMonitor(t *testing.T) {
	srv := newTestServer(t)

	// The deadline monitor has not been started, so the aggregate is unhealthy.
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Healthy    bool `json:"healthy"`
		Subsystems []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"subsystems"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Healthy)
	require.Len(t, body.Subsystems, 1)
	assert.Equal(t, "deadline_monitor", body.Subsystems[0].Name)
}

func TestServer_RequestIDEchoed(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/escrows", nil)
	req.Header.Set("X-Actor-Id", "user_rid")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"), "generated when the client sends none")

	req = httptest.NewRequest(http.MethodGet, "/v1/escrows", nil)
	req.Header.Set("X-Actor-Id", "user_rid")
	req.Header.Set("X-Request-ID", "req-from-gateway")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-from-gateway", w.Header().Get("X-Request-ID"))
}

func TestServer_EndToEndThroughMiddleware(t *testing.T) {
	srv := newTestServer(t)

	payload := `{
		"buyerId": "user_b", "sellerId": "user_s",
		"tradeType": "crypto_to_crypto",
		"buyCurrency": "USDC", "sellCurrency": "ETH",
		"buyerDepositAmount": "500", "sellerDepositAmount": "0.2",
		"buyerDepositWalletId": "0x52908400098527886E0F7030069857D2E4169EE7",
		"sellerDepositWalletId": "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/escrows", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "user_b")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Escrow struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"escrow"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "initialized", body.Escrow.State)
	assert.True(t, strings.HasPrefix(body.Escrow.ID, "esc_"))
}

func TestServer_RateLimitKicksIn(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 1 // burst of 2
	srv, err := New(cfg)
	require.NoError(t, err)
	defer srv.rateLimiter.Stop()

	var last int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/escrows", nil)
		req.Header.Set("X-Actor-Id", "user_limited")
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
