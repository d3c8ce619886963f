package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kausalhq/kausal/internal/agent/tools"
	"github.com/kausalhq/kausal/internal/integration"
	"github.com/kausalhq/kausal/internal/job"
	"github.com/kausalhq/kausal/internal/scan"
)

// GitHubProbe verifies the workspace's GitHub integration before an
// investigation starts. It is the one required preprocessing step:
// without repository access the code-aware half of every investigation
// is blind, so the job fails fast instead of producing a half report.
// Workspaces with no GitHub integration at all pass the probe; the
// requirement applies to broken integrations, not absent ones.
type GitHubProbe struct {
	integrations integration.Service
}

// NewGitHubProbe creates the probe step.
func NewGitHubProbe(svc integration.Service) *GitHubProbe {
	return &GitHubProbe{integrations: svc}
}

func (p *GitHubProbe) Name() string { return "github_probe" }

func (p *GitHubProbe) Required() bool { return true }

// Run implements Preprocessor.
func (p *GitHubProbe) Run(ctx context.Context, j *job.Job) error {
	ins, err := p.integrations.GetWorkspaceIntegrations(ctx, j.WorkspaceID)
	if err != nil {
		return fmt.Errorf("list integrations: %w", err)
	}

	for _, in := range ins {
		if in.Provider != integration.ProviderGitHub || !in.Connected() {
			continue
		}
		refreshed, err := p.integrations.CheckIntegrationHealth(ctx, in.ID)
		if err != nil {
			return fmt.Errorf("probe github integration %s: %w", in.ID, err)
		}
		if refreshed.HealthStatus != integration.HealthHealthy {
			// A broken integration is the user's to fix, so the failure
			// carries the settings link.
			return &ConfigurationError{
				Message:   fmt.Sprintf("github integration %s is %s", in.ID, refreshed.HealthStatus),
				ActionURL: "/settings/integrations",
			}
		}
	}
	return nil
}

// IntegrationWarmup re-probes every non-GitHub integration so the
// capability resolver sees fresh health. Failures are soft: a broken
// metrics backend narrows the investigation, it does not cancel it.
type IntegrationWarmup struct {
	integrations integration.Service
}

// NewIntegrationWarmup creates the warmup step.
func NewIntegrationWarmup(svc integration.Service) *IntegrationWarmup {
	return &IntegrationWarmup{integrations: svc}
}

func (p *IntegrationWarmup) Name() string { return "integration_warmup" }

func (p *IntegrationWarmup) Required() bool { return false }

// Run implements Preprocessor.
func (p *IntegrationWarmup) Run(ctx context.Context, j *job.Job) error {
	ins, err := p.integrations.GetWorkspaceIntegrations(ctx, j.WorkspaceID)
	if err != nil {
		return fmt.Errorf("list integrations: %w", err)
	}

	var firstErr error
	for _, in := range ins {
		if in.Provider == integration.ProviderGitHub || !in.Connected() {
			continue
		}
		if _, err := p.integrations.CheckIntegrationHealth(ctx, in.ID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("probe integration %s: %w", in.ID, err)
		}
	}
	return firstErr
}

// ServiceMapper provides the service→repository mapping for a
// workspace. Implemented by scan.Scanner.
type ServiceMapper interface {
	ServiceMapping(ctx context.Context, workspaceID string, repos []string) (scan.Mapping, error)
}

// ServiceMapPreprocessor caches the workspace's service→repository
// mapping onto the job before the investigation starts, so the
// evidence-gathering agent knows which repositories back which
// services. Soft step: a failed scan narrows the investigation, it
// does not cancel it.
type ServiceMapPreprocessor struct {
	mapper ServiceMapper
	repos  []string
}

// NewServiceMapPreprocessor creates the mapping step over the
// configured repositories.
func NewServiceMapPreprocessor(mapper ServiceMapper, repos []string) *ServiceMapPreprocessor {
	return &ServiceMapPreprocessor{mapper: mapper, repos: repos}
}

func (p *ServiceMapPreprocessor) Name() string { return "service_mapping" }

func (p *ServiceMapPreprocessor) Required() bool { return false }

// Run implements Preprocessor.
func (p *ServiceMapPreprocessor) Run(ctx context.Context, j *job.Job) error {
	if len(p.repos) == 0 {
		return nil
	}
	mapping, err := p.mapper.ServiceMapping(ctx, j.WorkspaceID, p.repos)
	if err != nil {
		return fmt.Errorf("scan service mapping: %w", err)
	}
	j.ServiceMapping = mapping
	return nil
}

// RepoMetadata caches deployment and ownership details for the
// configured repositories onto the job. Soft step, same rationale as
// the service mapping.
type RepoMetadata struct {
	code  tools.CodeHost
	repos []string
}

// NewRepoMetadata creates the metadata step.
func NewRepoMetadata(code tools.CodeHost, repos []string) *RepoMetadata {
	return &RepoMetadata{code: code, repos: repos}
}

func (p *RepoMetadata) Name() string { return "repo_metadata" }

func (p *RepoMetadata) Required() bool { return false }

// Run implements Preprocessor.
func (p *RepoMetadata) Run(ctx context.Context, j *job.Job) error {
	if p.code == nil || len(p.repos) == 0 {
		return nil
	}
	if j.Metadata == nil {
		j.Metadata = make(map[string]string, 2*len(p.repos))
	}

	var firstErr error
	for _, repo := range p.repos {
		if owner, _, ok := strings.Cut(repo, "/"); ok {
			j.Metadata["owner:"+repo] = owner
		}
		deployments, err := p.code.ListDeployments(ctx, repo, 1)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("list deployments for %s: %w", repo, err)
			}
			continue
		}
		if len(deployments) > 0 {
			d := deployments[0]
			j.Metadata["deployment:"+repo] = fmt.Sprintf("%s %s deployed %s",
				d.Environment, d.Ref, d.CreatedAt.Format(time.RFC3339))
		}
	}
	return firstErr
}
