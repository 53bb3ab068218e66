package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/harrison/ralph-ultra/internal/models"
)

// Probe timeouts per identifier source. Keychain lookups are local and fast;
// remote credit/usage endpoints get the longer budget.
const (
	keychainTimeout   = 2 * time.Second
	localProbeTimeout = 2 * time.Second
	creditsTimeout    = 5 * time.Second
	usageTimeout      = 10 * time.Second
)

// Utilization thresholds for degrading a provider's status.
const (
	limitedUtilization   = 0.80
	exhaustedUtilization = 0.95
)

// Detector resolves the quota status for one provider. Implementations never
// return an error; failures degrade to unknown or unavailable.
type Detector interface {
	Provider() string
	Detect(ctx context.Context) models.Quota
}

// envFunc abstracts os.Getenv for tests.
type envFunc func(string) string

// anthropicDetector checks the OS keychain, the Claude credential file, and
// ANTHROPIC_API_KEY. No live probe is defined, so a present identifier means
// available.
type anthropicDetector struct {
	env     envFunc
	homeDir string
	runCmd  func(ctx context.Context, name string, args ...string) error
}

func (d *anthropicDetector) Provider() string { return models.ProviderAnthropic }

func (d *anthropicDetector) Detect(ctx context.Context) models.Quota {
	quota := models.Quota{Provider: d.Provider()}

	if d.env("ANTHROPIC_API_KEY") != "" {
		quota.Status = models.QuotaAvailable
		quota.Details = "API key in environment"
		return quota
	}

	credFile := filepath.Join(d.homeDir, ".claude", ".credentials.json")
	if _, err := os.Stat(credFile); err == nil {
		quota.Status = models.QuotaAvailable
		quota.Details = "credential file"
		return quota
	}

	if runtime.GOOS == "darwin" && d.runCmd != nil {
		probeCtx, cancel := context.WithTimeout(ctx, keychainTimeout)
		defer cancel()
		err := d.runCmd(probeCtx, "security",
			"find-generic-password", "-s", "Claude Code-credentials")
		if err == nil {
			quota.Status = models.QuotaAvailable
			quota.Details = "OS keychain"
			return quota
		}
	}

	quota.Status = models.QuotaUnavailable
	quota.Details = "no credential source"
	return quota
}

// openRouterDetector uses OPENROUTER_API_KEY and the credits endpoint.
type openRouterDetector struct {
	env     envFunc
	client  *http.Client
	baseURL string
}

func (d *openRouterDetector) Provider() string { return models.ProviderOpenRouter }

func (d *openRouterDetector) Detect(ctx context.Context) models.Quota {
	quota := models.Quota{Provider: d.Provider()}

	key := d.env("OPENROUTER_API_KEY")
	if key == "" {
		quota.Status = models.QuotaUnavailable
		quota.Details = "no credential source"
		return quota
	}

	var payload struct {
		Data struct {
			TotalCredits float64 `json:"total_credits"`
			TotalUsage   float64 `json:"total_usage"`
		} `json:"data"`
	}
	err := getJSON(ctx, d.client, creditsTimeout, d.baseURL+"/api/v1/credits", key, &payload)
	if err != nil {
		quota.Status = models.QuotaUnknown
		quota.Details = fmt.Sprintf("credits probe failed: %v", err)
		return quota
	}

	remaining := payload.Data.TotalCredits - payload.Data.TotalUsage
	quota.Remaining = &remaining
	quota.Status = statusFromUtilization(payload.Data.TotalUsage, payload.Data.TotalCredits)
	quota.Details = fmt.Sprintf("%.2f credits remaining", remaining)
	return quota
}

// openAIDetector uses OPENAI_API_KEY and a usage-window probe.
type openAIDetector struct {
	env     envFunc
	client  *http.Client
	baseURL string
}

func (d *openAIDetector) Provider() string { return models.ProviderOpenAI }

func (d *openAIDetector) Detect(ctx context.Context) models.Quota {
	quota := models.Quota{Provider: d.Provider()}

	key := d.env("OPENAI_API_KEY")
	if key == "" {
		quota.Status = models.QuotaUnavailable
		quota.Details = "no credential source"
		return quota
	}

	// The models endpoint doubles as a liveness probe; a 200 means the key
	// is accepted and the account is not hard-blocked.
	var payload struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	err := getJSON(ctx, d.client, usageTimeout, d.baseURL+"/v1/models", key, &payload)
	if err != nil {
		quota.Status = models.QuotaUnknown
		quota.Details = fmt.Sprintf("usage probe failed: %v", err)
		return quota
	}

	quota.Status = models.QuotaAvailable
	quota.Details = fmt.Sprintf("%d models listed", len(payload.Data))
	return quota
}

// googleDetector checks GOOGLE_API_KEY / GEMINI_API_KEY; no probe is defined.
type googleDetector struct {
	env envFunc
}

func (d *googleDetector) Provider() string { return models.ProviderGoogle }

func (d *googleDetector) Detect(_ context.Context) models.Quota {
	quota := models.Quota{Provider: d.Provider()}
	if d.env("GOOGLE_API_KEY") != "" || d.env("GEMINI_API_KEY") != "" {
		quota.Status = models.QuotaAvailable
		quota.Details = "API key in environment"
		return quota
	}
	quota.Status = models.QuotaUnavailable
	quota.Details = "no credential source"
	return quota
}

// localDetector probes the local model server's model list. The probe is the
// identifier: a reachable server means available.
type localDetector struct {
	client  *http.Client
	baseURL string
}

func (d *localDetector) Provider() string { return models.ProviderLocal }

func (d *localDetector) Detect(ctx context.Context) models.Quota {
	quota := models.Quota{Provider: d.Provider()}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	err := getJSON(ctx, d.client, localProbeTimeout, d.baseURL+"/api/tags", "", &payload)
	if err != nil {
		quota.Status = models.QuotaUnavailable
		quota.Details = "local model server not reachable"
		return quota
	}

	quota.Status = models.QuotaAvailable
	quota.Details = fmt.Sprintf("%d local models", len(payload.Models))
	return quota
}

// statusFromUtilization maps a used/limit ratio to a quota status.
func statusFromUtilization(used, limit float64) models.QuotaStatus {
	if limit <= 0 {
		return models.QuotaAvailable
	}
	utilization := used / limit
	switch {
	case utilization > exhaustedUtilization:
		return models.QuotaExhausted
	case utilization > limitedUtilization:
		return models.QuotaLimited
	default:
		return models.QuotaAvailable
	}
}

// getJSON performs an authenticated GET with a bounded retry inside the
// probe's timeout budget and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, timeout time.Duration, url, bearer string, out any) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operation := func() error {
		req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), probeCtx)
	return backoff.Retry(operation, policy)
}

// runSecurityCmd executes a command discarding output; used for keychain
// probes.
func runSecurityCmd(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}
