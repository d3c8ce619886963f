package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kausalhq/kausal/internal/agent/tools"
)

type stubRepoScanner struct {
	mu       sync.Mutex
	services map[string][]string
	errs     map[string]error
	scanned  []string
	inFlight int
	maxSeen  int
}

func (s *stubRepoScanner) ScanRepository(_ context.Context, repo string) ([]string, error) {
	s.mu.Lock()
	s.scanned = append(s.scanned, repo)
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if err := s.errs[repo]; err != nil {
		return nil, err
	}
	return s.services[repo], nil
}

func TestServiceMapping_MergesBatches(t *testing.T) {
	src := &stubRepoScanner{
		services: map[string][]string{
			"acme/checkout":  {"checkout"},
			"acme/payments":  {"payments", "refunds"},
			"acme/platform":  {"checkout"},
			"acme/unrelated": nil,
		},
	}
	s, err := NewScanner(src, Config{BatchSize: 2})
	require.NoError(t, err)

	mapping, err := s.ServiceMapping(context.Background(),
		"ws-1", []string{"acme/checkout", "acme/payments", "acme/platform", "acme/unrelated"})
	require.NoError(t, err)

	assert.Equal(t, Mapping{
		"checkout": {"acme/checkout", "acme/platform"},
		"payments": {"acme/payments"},
		"refunds":  {"acme/payments"},
	}, mapping)
	assert.Len(t, src.scanned, 4)
}

func TestServiceMapping_BatchBoundsConcurrency(t *testing.T) {
	src := &stubRepoScanner{services: map[string][]string{}}
	s, err := NewScanner(src, Config{BatchSize: 3})
	require.NoError(t, err)

	repos := make([]string, 12)
	for i := range repos {
		repos[i] = string(rune('a' + i))
	}
	_, err = s.ServiceMapping(context.Background(), "ws-1", repos)
	require.NoError(t, err)

	assert.LessOrEqual(t, src.maxSeen, 3)
	assert.Len(t, src.scanned, 12)
}

func TestServiceMapping_FailedRepoSkipped(t *testing.T) {
	src := &stubRepoScanner{
		services: map[string][]string{"acme/checkout": {"checkout"}},
		errs:     map[string]error{"acme/broken": errors.New("404")},
	}
	s, err := NewScanner(src, Config{})
	require.NoError(t, err)

	mapping, err := s.ServiceMapping(context.Background(), "ws-1", []string{"acme/checkout", "acme/broken"})
	require.NoError(t, err)
	assert.Equal(t, Mapping{"checkout": {"acme/checkout"}}, mapping)
}

func TestServiceMapping_CachedPerWorkspace(t *testing.T) {
	src := &stubRepoScanner{services: map[string][]string{"acme/checkout": {"checkout"}}}
	s, err := NewScanner(src, Config{})
	require.NoError(t, err)

	_, err = s.ServiceMapping(context.Background(), "ws-1", []string{"acme/checkout"})
	require.NoError(t, err)
	_, err = s.ServiceMapping(context.Background(), "ws-1", []string{"acme/checkout"})
	require.NoError(t, err)
	assert.Len(t, src.scanned, 1, "second resolution must come from cache")

	// A different workspace scans independently.
	_, err = s.ServiceMapping(context.Background(), "ws-2", []string{"acme/checkout"})
	require.NoError(t, err)
	assert.Len(t, src.scanned, 2)
}

func TestServiceMapping_InvalidateForcesRescan(t *testing.T) {
	src := &stubRepoScanner{services: map[string][]string{"acme/checkout": {"checkout"}}}
	s, err := NewScanner(src, Config{})
	require.NoError(t, err)

	_, err = s.ServiceMapping(context.Background(), "ws-1", []string{"acme/checkout"})
	require.NoError(t, err)
	s.Invalidate("ws-1")
	_, err = s.ServiceMapping(context.Background(), "ws-1", []string{"acme/checkout"})
	require.NoError(t, err)
	assert.Len(t, src.scanned, 2)
}

type stubCodeHost struct {
	files map[string]string // repo+":"+path → content
	err   error
}

func (h *stubCodeHost) SearchCode(context.Context, string, string, int) ([]tools.CodeMatch, error) {
	return nil, errors.New("not implemented")
}

func (h *stubCodeHost) ReadFile(_ context.Context, repo, path, _ string) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	content, ok := h.files[repo+":"+path]
	if !ok {
		return "", errors.New("not found")
	}
	return content, nil
}

func (h *stubCodeHost) GetRepositoryInfo(context.Context, string) (*tools.RepositoryInfo, error) {
	return nil, errors.New("not implemented")
}

func (h *stubCodeHost) ListDeployments(context.Context, string, int) ([]tools.Deployment, error) {
	return nil, errors.New("not implemented")
}

func TestManifestScanner_ReadsDeclaredServices(t *testing.T) {
	host := &stubCodeHost{files: map[string]string{
		"acme/platform:.kausal/services.yaml": "services:\n  - checkout\n  - payments\n",
	}}
	m := NewManifestScanner(host, "")

	services, err := m.ScanRepository(context.Background(), "acme/platform")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout", "payments"}, services)
}

func TestManifestScanner_MissingManifestFallsBackToRepoName(t *testing.T) {
	m := NewManifestScanner(&stubCodeHost{}, "")

	services, err := m.ScanRepository(context.Background(), "acme/checkout-service")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout-service"}, services)
}

func TestManifestScanner_EmptyManifestFallsBack(t *testing.T) {
	host := &stubCodeHost{files: map[string]string{
		"acme/checkout:.kausal/services.yaml": "services: []\n",
	}}
	m := NewManifestScanner(host, "")

	services, err := m.ScanRepository(context.Background(), "acme/checkout")
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout"}, services)
}

func TestManifestScanner_MalformedManifestErrors(t *testing.T) {
	host := &stubCodeHost{files: map[string]string{
		"acme/checkout:.kausal/services.yaml": "services: {not a list",
	}}
	m := NewManifestScanner(host, "")

	_, err := m.ScanRepository(context.Background(), "acme/checkout")
	assert.Error(t, err)
}
