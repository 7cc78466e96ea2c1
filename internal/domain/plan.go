package domain

import (
	"path/filepath"
	"strings"
)

// Plan carries the planner's output for a staged task.
type Plan struct {
	Prompt           string
	Capabilities     []string
	WritablePaths    []string
	WorkDir          string
	NeedsVCS         bool
	EstimatedTokens  int
	EstimatedSeconds int
}

// Normalize trims and de-duplicates the capability list (keeping order) and
// cleans every path. Relative paths are rejected.
func (p Plan) Normalize() (Plan, error) {
	out := p
	out.Prompt = strings.TrimSpace(p.Prompt)
	out.Capabilities = dedupe(p.Capabilities, strings.TrimSpace)

	out.WritablePaths = make([]string, 0, len(p.WritablePaths))
	seen := make(map[string]bool, len(p.WritablePaths))
	for _, raw := range p.WritablePaths {
		path, err := CleanAbsPath(raw)
		if err != nil {
			return Plan{}, err
		}
		if !seen[path] {
			seen[path] = true
			out.WritablePaths = append(out.WritablePaths, path)
		}
	}

	if strings.TrimSpace(p.WorkDir) != "" {
		dir, err := CleanAbsPath(p.WorkDir)
		if err != nil {
			return Plan{}, err
		}
		out.WorkDir = dir
	}
	if out.EstimatedTokens < 0 || out.EstimatedSeconds < 0 {
		return Plan{}, NewValidationError("estimates must not be negative")
	}
	return out, nil
}

// CleanAbsPath returns the cleaned form of an absolute path.
func CleanAbsPath(raw string) (string, error) {
	path := strings.TrimSpace(raw)
	if path == "" {
		return "", NewValidationError("empty path")
	}
	if !filepath.IsAbs(path) {
		return "", NewValidationError("path %q must be absolute", raw)
	}
	return filepath.Clean(path), nil
}

func dedupe(in []string, norm func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = norm(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
