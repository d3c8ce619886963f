// Package scan discovers which repositories implement which services.
// The resulting service mapping feeds the execution context so the
// investigation agent can jump from a failing service straight to the
// code that backs it.
package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/kausalhq/kausal/internal/logging"
)

const (
	// DefaultBatchSize is how many repositories are scanned in
	// parallel per batch.
	DefaultBatchSize = 10

	// DefaultCacheTTL is how long a workspace's resolved mapping is
	// served from cache before repositories are scanned again.
	DefaultCacheTTL = 10 * time.Minute

	defaultCacheSize = 1000
)

// Mapping maps a service name to the repositories implementing it.
type Mapping map[string][]string

// RepoScanner inspects one repository and reports the services it
// implements. Implemented by ManifestScanner over the code host.
type RepoScanner interface {
	ScanRepository(ctx context.Context, repo string) ([]string, error)
}

// Config configures a Scanner.
type Config struct {
	// BatchSize bounds how many repositories are scanned concurrently.
	// Defaults to DefaultBatchSize.
	BatchSize int

	// CacheTTL is the mapping cache lifetime. Defaults to
	// DefaultCacheTTL.
	CacheTTL time.Duration

	Logger *logging.Logger
}

// Scanner resolves service mappings for workspaces, scanning
// repositories in bounded-parallel batches and caching the merged
// result per workspace.
type Scanner struct {
	source RepoScanner
	cache  *expirable.LRU[string, Mapping]
	batch  int
	logger *logging.Logger
}

// NewScanner creates a Scanner over the given repository source.
func NewScanner(source RepoScanner, cfg Config) (*Scanner, error) {
	if source == nil {
		return nil, fmt.Errorf("repo scanner is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("scan")
	}
	return &Scanner{
		source: source,
		cache:  expirable.NewLRU[string, Mapping](defaultCacheSize, nil, cfg.CacheTTL),
		batch:  cfg.BatchSize,
		logger: cfg.Logger,
	}, nil
}

// ServiceMapping returns the service→repositories mapping for a
// workspace, scanning the given repositories on a cache miss. A
// repository that fails to scan is skipped, it never fails the whole
// resolution.
func (s *Scanner) ServiceMapping(ctx context.Context, workspaceID string, repos []string) (Mapping, error) {
	if cached, ok := s.cache.Get(workspaceID); ok {
		s.logger.Debug("service mapping cache hit for workspace %s", workspaceID)
		return cached, nil
	}

	mapping := Mapping{}
	for start := 0; start < len(repos); start += s.batch {
		end := start + s.batch
		if end > len(repos) {
			end = len(repos)
		}
		batchResult, err := s.scanBatch(ctx, repos[start:end])
		if err != nil {
			return nil, err
		}
		for service, found := range batchResult {
			mapping[service] = append(mapping[service], found...)
		}
	}

	for service := range mapping {
		sort.Strings(mapping[service])
	}

	s.cache.Add(workspaceID, mapping)
	s.logger.Info("scanned %d repositories for workspace %s: %d services", len(repos), workspaceID, len(mapping))
	return mapping, nil
}

// Invalidate drops a workspace's cached mapping, forcing the next
// resolution to rescan.
func (s *Scanner) Invalidate(workspaceID string) {
	s.cache.Remove(workspaceID)
}

// scanBatch scans one batch of repositories in parallel. Context
// cancellation is fatal; an individual repository failure is logged and
// skipped.
func (s *Scanner) scanBatch(ctx context.Context, repos []string) (Mapping, error) {
	var mu sync.Mutex
	result := Mapping{}

	g, gctx := errgroup.WithContext(ctx)
	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			services, err := s.source.ScanRepository(gctx, repo)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("scan of repository %s failed: %v", repo, err)
				return nil
			}
			mu.Lock()
			for _, service := range services {
				result[service] = append(result[service], repo)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return result, nil
}
