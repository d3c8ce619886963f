package scan

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kausalhq/kausal/internal/agent/tools"
)

// DefaultManifestPath is where repositories declare the services they
// implement.
const DefaultManifestPath = ".kausal/services.yaml"

// manifest is the declared service list inside a repository.
type manifest struct {
	Services []string `yaml:"services"`
}

// ManifestScanner reads a repository's service manifest through the
// code host. Repositories without a manifest fall back to their own
// name as the single implemented service.
type ManifestScanner struct {
	host tools.CodeHost
	path string
}

// NewManifestScanner creates a ManifestScanner. An empty path uses
// DefaultManifestPath.
func NewManifestScanner(host tools.CodeHost, path string) *ManifestScanner {
	if path == "" {
		path = DefaultManifestPath
	}
	return &ManifestScanner{host: host, path: path}
}

// ScanRepository implements RepoScanner.
func (m *ManifestScanner) ScanRepository(ctx context.Context, repo string) ([]string, error) {
	content, err := m.host.ReadFile(ctx, repo, m.path, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// No manifest: the repository stands for one service named
		// after itself.
		return []string{repoService(repo)}, nil
	}

	var mf manifest
	if err := yaml.Unmarshal([]byte(content), &mf); err != nil {
		return nil, fmt.Errorf("parse %s in %s: %w", m.path, repo, err)
	}

	services := make([]string, 0, len(mf.Services))
	for _, s := range mf.Services {
		s = strings.TrimSpace(s)
		if s != "" {
			services = append(services, s)
		}
	}
	if len(services) == 0 {
		return []string{repoService(repo)}, nil
	}
	return services, nil
}

// repoService derives a service name from an owner/name repository
// slug.
func repoService(repo string) string {
	if i := strings.LastIndex(repo, "/"); i >= 0 {
		return repo[i+1:]
	}
	return repo
}
