package quota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/ralph-ultra/internal/models"
)

func envWith(values map[string]string) envFunc {
	return func(key string) string { return values[key] }
}

func TestAnthropicDetectorEnvKey(t *testing.T) {
	d := &anthropicDetector{
		env:     envWith(map[string]string{"ANTHROPIC_API_KEY": "sk-test"}),
		homeDir: t.TempDir(),
	}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaAvailable, q.Status)
	assert.Equal(t, "API key in environment", q.Details)
}

func TestAnthropicDetectorCredentialFile(t *testing.T) {
	home := t.TempDir()
	credDir := filepath.Join(home, ".claude")
	require.NoError(t, os.MkdirAll(credDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(credDir, ".credentials.json"), []byte("{}"), 0o600))

	d := &anthropicDetector{env: envWith(nil), homeDir: home}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaAvailable, q.Status)
	assert.Equal(t, "credential file", q.Details)
}

func TestAnthropicDetectorNoCredentials(t *testing.T) {
	d := &anthropicDetector{env: envWith(nil), homeDir: t.TempDir()}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaUnavailable, q.Status)
	assert.Equal(t, "no credential source", q.Details)
}

func TestOpenRouterDetector(t *testing.T) {
	tests := []struct {
		name          string
		totalCredits  float64
		totalUsage    float64
		wantStatus    models.QuotaStatus
		wantRemaining float64
	}{
		{name: "plenty of credits", totalCredits: 100, totalUsage: 10, wantStatus: models.QuotaAvailable, wantRemaining: 90},
		{name: "over eighty percent is limited", totalCredits: 100, totalUsage: 85, wantStatus: models.QuotaLimited, wantRemaining: 15},
		{name: "over ninety-five percent is exhausted", totalCredits: 100, totalUsage: 99, wantStatus: models.QuotaExhausted, wantRemaining: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/credits", r.URL.Path)
				assert.Equal(t, "Bearer or-key", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"data":{"total_credits":` +
					formatFloat(tt.totalCredits) + `,"total_usage":` + formatFloat(tt.totalUsage) + `}}`))
			}))
			defer server.Close()

			d := &openRouterDetector{
				env:     envWith(map[string]string{"OPENROUTER_API_KEY": "or-key"}),
				client:  server.Client(),
				baseURL: server.URL,
			}
			q := d.Detect(context.Background())
			assert.Equal(t, tt.wantStatus, q.Status)
			require.NotNil(t, q.Remaining)
			assert.InDelta(t, tt.wantRemaining, *q.Remaining, 1e-9)
		})
	}
}

func TestOpenRouterDetectorNoKey(t *testing.T) {
	d := &openRouterDetector{env: envWith(nil)}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaUnavailable, q.Status)
}

func TestOpenRouterDetectorProbeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	d := &openRouterDetector{
		env:     envWith(map[string]string{"OPENROUTER_API_KEY": "or-key"}),
		client:  server.Client(),
		baseURL: server.URL,
	}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaUnknown, q.Status)
	assert.Contains(t, q.Details, "credits probe failed")
}

func TestOpenAIDetector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"o3-mini"}]}`))
	}))
	defer server.Close()

	d := &openAIDetector{
		env:     envWith(map[string]string{"OPENAI_API_KEY": "oa-key"}),
		client:  server.Client(),
		baseURL: server.URL,
	}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaAvailable, q.Status)
	assert.Equal(t, "2 models listed", q.Details)
}

func TestOpenAIDetectorNoKey(t *testing.T) {
	d := &openAIDetector{env: envWith(nil)}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaUnavailable, q.Status)
	assert.Equal(t, "no credential source", q.Details)
}

func TestGoogleDetector(t *testing.T) {
	d := &googleDetector{env: envWith(map[string]string{"GEMINI_API_KEY": "g-key"})}
	assert.Equal(t, models.QuotaAvailable, d.Detect(context.Background()).Status)

	d = &googleDetector{env: envWith(nil)}
	assert.Equal(t, models.QuotaUnavailable, d.Detect(context.Background()).Status)
}

func TestLocalDetector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:32b"}]}`))
	}))
	defer server.Close()

	d := &localDetector{client: server.Client(), baseURL: server.URL}
	q := d.Detect(context.Background())
	assert.Equal(t, models.QuotaAvailable, q.Status)
	assert.Equal(t, "1 local models", q.Details)
}

func TestStatusFromUtilization(t *testing.T) {
	assert.Equal(t, models.QuotaAvailable, statusFromUtilization(0, 0))
	assert.Equal(t, models.QuotaAvailable, statusFromUtilization(50, 100))
	assert.Equal(t, models.QuotaAvailable, statusFromUtilization(80, 100))
	assert.Equal(t, models.QuotaLimited, statusFromUtilization(81, 100))
	assert.Equal(t, models.QuotaLimited, statusFromUtilization(95, 100))
	assert.Equal(t, models.QuotaExhausted, statusFromUtilization(96, 100))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
