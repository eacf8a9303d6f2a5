package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/config"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("N", "42")
	t.Setenv("BAD", "x")
	t.Setenv("B", "true")
	t.Setenv("S", "0")

	require.Equal(t, 42, envInt("N", 1))
	require.Equal(t, 1, envInt("BAD", 1))
	require.Equal(t, 1, envInt("UNSET_FOR_TEST", 1))
	require.True(t, envBool("B", false))
	require.False(t, envBool("BAD", false))
	require.Equal(t, time.Duration(0), envSeconds("S", time.Minute))
	require.Equal(t, time.Minute, envSeconds("BAD", time.Minute))
}

func TestSourceFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("OPENAI_API_BASE_URL", "https://proxy.example/")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:8080")
	t.Setenv("SITE_PASSWORD", "pw")
	t.Setenv("PUBLIC_SECRET_KEY", "sec")
	t.Setenv("PROD", "1")
	t.Setenv("SIGNATURE_MAX_AGE_SECONDS", "")
	t.Setenv("UPSTREAM_TIMEOUT_SECONDS", "30")
	t.Setenv("LISTEN_ADDR", "")

	src := SourceFromEnv()
	require.Equal(t, "k", src.APIKey)
	require.True(t, src.Production)
	require.Equal(t, config.DefaultSignatureMaxAge, src.SignatureMaxAge)
	require.Equal(t, 30*time.Second, src.UpstreamTimeout)

	cfg, err := config.New(src)
	require.NoError(t, err)
	require.Equal(t, "https://proxy.example", cfg.BaseURL)
	require.Equal(t, config.DefaultModel, cfg.Model)
	require.Equal(t, ":3000", cfg.ListenAddr)
	require.Equal(t, "127.0.0.1:8080", cfg.ProxyURL.Host)
}

func TestLoadConfig_WithoutParamPrefix(t *testing.T) {
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("OPENAI_API_KEY", "")
	_, err := LoadConfig(context.Background())
	require.ErrorContains(t, err, "API key")
}

func TestNewHandler_ServesHealth(t *testing.T) {
	cfg, err := config.New(config.Source{APIKey: "k"})
	require.NoError(t, err)
	h, err := NewHandler(cfg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"messages":[]}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "No input text", rec.Body.String())
}
