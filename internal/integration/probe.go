package integration

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// probeTimeout bounds a single reachability check.
const probeTimeout = 10 * time.Second

// newProbeHTTPClient returns an HTTP client tuned for short liveness checks.
func newProbeHTTPClient() *http.Client {
	return &http.Client{
		Timeout: probeTimeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     60 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

// HTTPProber probes a provider by issuing a GET against a health path on the
// integration's configured base URL. Transient failures are retried with a
// short exponential backoff before the probe is declared failed.
type HTTPProber struct {
	client *http.Client

	// healthPath is appended to the integration's base_url config value.
	healthPath string
}

// NewHTTPProber creates an HTTPProber for the given health path
// (e.g. "/api/health" for Grafana).
func NewHTTPProber(healthPath string) *HTTPProber {
	return &HTTPProber{
		client:     newProbeHTTPClient(),
		healthPath: healthPath,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, in Integration) error {
	baseURL := in.Config["base_url"]
	if baseURL == "" {
		return fmt.Errorf("integration %s has no base_url configured", in.ID)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+p.healthPath, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if token := in.Config["api_token"]; token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("probe %s: status %d", baseURL, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// Auth/config problems will not heal by retrying.
			return backoff.Permanent(fmt.Errorf("probe %s: status %d", baseURL, resp.StatusCode))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(op, policy)
}

// GitHubProber probes GitHub reachability with a rate-limit lookup, the
// cheapest authenticated call the API offers.
type GitHubProber struct {
	// newClient builds a GitHub client for an integration's token.
	// Overridable in tests.
	newClient func(ctx context.Context, token string) *github.Client
}

// NewGitHubProber creates a GitHubProber.
func NewGitHubProber() *GitHubProber {
	return &GitHubProber{
		newClient: func(ctx context.Context, token string) *github.Client {
			src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			return github.NewClient(oauth2.NewClient(ctx, src))
		},
	}
}

// Probe implements Prober.
func (p *GitHubProber) Probe(ctx context.Context, in Integration) error {
	token := in.Config["access_token"]
	if token == "" {
		return fmt.Errorf("integration %s has no access_token configured", in.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := p.newClient(ctx, token)
	if _, _, err := client.RateLimit.Get(ctx); err != nil {
		return fmt.Errorf("github reachability check: %w", err)
	}
	return nil
}

// DefaultProbers returns the prober set for all supported providers.
func DefaultProbers() map[string]Prober {
	return map[string]Prober{
		ProviderGitHub:   NewGitHubProber(),
		ProviderGrafana:  NewHTTPProber("/api/health"),
		ProviderAWS:      NewHTTPProber("/"),
		ProviderDatadog:  NewHTTPProber("/api/v1/validate"),
		ProviderNewRelic: NewHTTPProber("/v2/application_hosts.json"),
	}
}
