package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	anthropicStatusURL = "https://status.anthropic.com/api/v2/status.json"

	statusFetchTimeout = 3 * time.Second
	statusCacheTTL     = 5 * time.Minute
)

// fetchAnthropicStatus queries the public status page and folds its
// indicator into operational, degraded, or outage.
func fetchAnthropicStatus(ctx context.Context) (string, error) {
	return fetchStatusFrom(ctx, anthropicStatusURL)
}

func fetchStatusFrom(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status page returned %s", resp.Status)
	}

	var payload struct {
		Status struct {
			Indicator string `json:"indicator"`
		} `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	switch payload.Status.Indicator {
	case "none":
		return "operational", nil
	case "minor":
		return "degraded", nil
	case "major", "critical":
		return "outage", nil
	default:
		return "", fmt.Errorf("unknown status indicator %q", payload.Status.Indicator)
	}
}
