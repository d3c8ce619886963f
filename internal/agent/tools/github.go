package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// GitHubHost implements CodeHost on the GitHub API.
type GitHubHost struct {
	client *github.Client
}

// NewGitHubHost creates a CodeHost authenticated with the given token.
func NewGitHubHost(ctx context.Context, token string) *GitHubHost {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubHost{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// NewGitHubHostWithClient creates a CodeHost over an existing client.
// Used by tests to point at a stub server.
func NewGitHubHostWithClient(client *github.Client) *GitHubHost {
	return &GitHubHost{client: client}
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// SearchCode implements CodeHost.SearchCode.
func (h *GitHubHost) SearchCode(ctx context.Context, query, repo string, limit int) ([]CodeMatch, error) {
	q := query
	if repo != "" {
		q = fmt.Sprintf("%s repo:%s", query, repo)
	}

	result, _, err := h.client.Search.Code(ctx, q, &github.SearchOptions{
		TextMatch:   true,
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("search code: %w", err)
	}

	matches := make([]CodeMatch, 0, len(result.CodeResults))
	for _, r := range result.CodeResults {
		match := CodeMatch{
			Repository: r.GetRepository().GetFullName(),
			Path:       r.GetPath(),
			URL:        r.GetHTMLURL(),
		}
		if len(r.TextMatches) > 0 {
			match.Fragment = r.TextMatches[0].GetFragment()
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// ReadFile implements CodeHost.ReadFile.
func (h *GitHubHost) ReadFile(ctx context.Context, repo, path, ref string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}

	fileContent, _, _, err := h.client.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		return "", fmt.Errorf("get contents of %s in %s: %w", path, repo, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("%s in %s is a directory, not a file", path, repo)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode contents of %s: %w", path, err)
	}
	return content, nil
}

// GetRepositoryInfo implements CodeHost.GetRepositoryInfo.
func (h *GitHubHost) GetRepositoryInfo(ctx context.Context, repo string) (*RepositoryInfo, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	r, _, err := h.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", repo, err)
	}

	return &RepositoryInfo{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		PushedAt:      r.GetPushedAt().Time,
	}, nil
}

// ListDeployments implements CodeHost.ListDeployments.
func (h *GitHubHost) ListDeployments(ctx context.Context, repo string, limit int) ([]Deployment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	deployments, _, err := h.client.Repositories.ListDeployments(ctx, owner, name, &github.DeploymentsListOptions{
		ListOptions: github.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("list deployments for %s: %w", repo, err)
	}

	out := make([]Deployment, 0, len(deployments))
	for _, d := range deployments {
		out = append(out, Deployment{
			ID:          d.GetID(),
			Environment: d.GetEnvironment(),
			Ref:         d.GetRef(),
			SHA:         d.GetSHA(),
			CreatedAt:   d.GetCreatedAt().Time,
			Description: d.GetDescription(),
		})
	}
	return out, nil
}
