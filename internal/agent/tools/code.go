package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kausalhq/kausal/internal/capability"
)

// SearchCodeTool searches source code in the workspace's repositories.
type SearchCodeTool struct {
	host CodeHost
}

func (t *SearchCodeTool) Name() string { return "search_code" }

func (t *SearchCodeTool) Capability() capability.Capability { return capability.CodeSearch }

func (t *SearchCodeTool) Description() string {
	return `Search source code across the workspace's connected repositories.

Use this tool to:
- Locate the code path behind an error message
- Find where a config value or feature flag is read
- Identify recently introduced call sites

Input:
- query: Search terms (code search syntax)
- repo (optional): Restrict to one repository (owner/name)
- limit (optional): Maximum matches to return (default: 20, max: 50)`
}

func (t *SearchCodeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"query"},
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search terms",
			},
			"repo": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one repository (owner/name)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum matches to return (default: 20, max: 50)",
			},
		},
	}
}

type searchCodeInput struct {
	Query string `json:"query"`
	Repo  string `json:"repo"`
	Limit int    `json:"limit"`
}

func (t *SearchCodeTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in searchCodeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if in.Limit <= 0 {
		in.Limit = 20
	}
	if in.Limit > 50 {
		in.Limit = 50
	}

	matches, err := t.host.SearchCode(ctx, in.Query, in.Repo, in.Limit)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"matches": matches},
		Summary: fmt.Sprintf("Found %d code matches for %q", len(matches), in.Query),
	}, nil
}

// ReadFileTool reads a file from a connected repository.
type ReadFileTool struct {
	host CodeHost
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Capability() capability.Capability { return capability.CodeRead }

func (t *ReadFileTool) Description() string {
	return `Read a file from a connected repository.

Use this tool to:
- Inspect the implementation behind a code search match
- Check configuration files for recent changes

Input:
- repo: Repository (owner/name)
- path: File path within the repository
- ref (optional): Branch, tag, or commit SHA (default: default branch)`
}

func (t *ReadFileTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"repo", "path"},
		"properties": map[string]interface{}{
			"repo": map[string]interface{}{
				"type":        "string",
				"description": "Repository (owner/name)",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path within the repository",
			},
			"ref": map[string]interface{}{
				"type":        "string",
				"description": "Branch, tag, or commit SHA (default: default branch)",
			},
		},
	}
}

type readFileInput struct {
	Repo string `json:"repo"`
	Path string `json:"path"`
	Ref  string `json:"ref"`
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in readFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}

	content, err := t.host.ReadFile(ctx, in.Repo, in.Path, in.Ref)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"repo": in.Repo, "path": in.Path, "content": content},
		Summary: fmt.Sprintf("Read %s from %s (%d bytes)", in.Path, in.Repo, len(content)),
	}, nil
}

// RepositoryInfoTool summarizes a connected repository.
type RepositoryInfoTool struct {
	host CodeHost
}

func (t *RepositoryInfoTool) Name() string { return "repository_info" }

func (t *RepositoryInfoTool) Capability() capability.Capability { return capability.RepositoryInfo }

func (t *RepositoryInfoTool) Description() string {
	return `Get metadata about a connected repository: description, default
branch, primary language, and last push time.

Input:
- repo: Repository (owner/name)`
}

func (t *RepositoryInfoTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"repo"},
		"properties": map[string]interface{}{
			"repo": map[string]interface{}{
				"type":        "string",
				"description": "Repository (owner/name)",
			},
		},
	}
}

type repositoryInfoInput struct {
	Repo string `json:"repo"`
}

func (t *RepositoryInfoTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in repositoryInfoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}

	info, err := t.host.GetRepositoryInfo(ctx, in.Repo)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    info,
		Summary: fmt.Sprintf("Retrieved metadata for %s", info.FullName),
	}, nil
}

// ListDeploymentsTool lists recent deployments for a repository.
type ListDeploymentsTool struct {
	host CodeHost
}

func (t *ListDeploymentsTool) Name() string { return "list_deployments" }

func (t *ListDeploymentsTool) Capability() capability.Capability { return capability.Deployments }

func (t *ListDeploymentsTool) Description() string {
	return `List recent deployments for a repository, newest first.

Use this tool to:
- Check whether a deployment landed near the start of an incident
- Find the commit SHA and environment of a suspect rollout

Input:
- repo: Repository (owner/name)
- limit (optional): Maximum deployments to return (default: 10, max: 50)`
}

func (t *ListDeploymentsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"repo"},
		"properties": map[string]interface{}{
			"repo": map[string]interface{}{
				"type":        "string",
				"description": "Repository (owner/name)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum deployments to return (default: 10, max: 50)",
			},
		},
	}
}

type listDeploymentsInput struct {
	Repo  string `json:"repo"`
	Limit int    `json:"limit"`
}

func (t *ListDeploymentsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in listDeploymentsInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
	}
	if in.Limit <= 0 {
		in.Limit = 10
	}
	if in.Limit > 50 {
		in.Limit = 50
	}

	deployments, err := t.host.ListDeployments(ctx, in.Repo, in.Limit)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	return &Result{
		Success: true,
		Data:    map[string]interface{}{"deployments": deployments},
		Summary: fmt.Sprintf("Found %d deployments for %s", len(deployments), in.Repo),
	}, nil
}
