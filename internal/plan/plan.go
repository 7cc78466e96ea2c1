// Package plan reads the YAML documents a planner hands to the core: a task
// description plus the plan the user reviews before approving.
package plan

import (
	"fmt"
	"os"
	"strings"

	"github.com/nightshift/backend/internal/domain"
	"gopkg.in/yaml.v3"
)

type Document struct {
	Description      string   `yaml:"description"`
	Prompt           string   `yaml:"prompt"`
	Capabilities     []string `yaml:"capabilities"`
	WritablePaths    []string `yaml:"writable_paths"`
	WorkDir          string   `yaml:"work_dir"`
	NeedsVCS         bool     `yaml:"needs_vcs"`
	EstimatedTokens  int      `yaml:"estimated_tokens"`
	EstimatedSeconds int      `yaml:"estimated_seconds"`
}

// Load reads and validates a plan document. Unknown keys are rejected so a
// misspelt writable_paths does not silently produce a task that can write
// nowhere.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	defer f.Close()

	var doc Document
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse plan %s: %v", domain.ErrValidation, path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Parse decodes a plan document from memory.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse plan: %v", domain.ErrValidation, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) Validate() error {
	if strings.TrimSpace(d.Description) == "" && strings.TrimSpace(d.Prompt) == "" {
		return domain.NewValidationError("plan needs a description or a prompt")
	}
	_, err := d.Plan().Normalize()
	return err
}

func (d *Document) Plan() domain.Plan {
	return domain.Plan{
		Prompt:           d.Prompt,
		Capabilities:     d.Capabilities,
		WritablePaths:    d.WritablePaths,
		WorkDir:          d.WorkDir,
		NeedsVCS:         d.NeedsVCS,
		EstimatedTokens:  d.EstimatedTokens,
		EstimatedSeconds: d.EstimatedSeconds,
	}
}

// NewTask is the submit input for the document. The prompt doubles as the
// description when none is given.
func (d *Document) NewTask() domain.NewTask {
	desc := d.Description
	if strings.TrimSpace(desc) == "" {
		desc = d.Prompt
	}
	p := d.Plan()
	return domain.NewTask{Description: desc, Plan: &p}
}

// Render writes a task's current plan back out in the same format, for
// editing and re-submitting through revise.
func Render(t *domain.Task) ([]byte, error) {
	doc := Document{
		Description:      t.Description,
		Prompt:           t.Prompt,
		Capabilities:     t.Capabilities,
		WritablePaths:    t.WritablePaths,
		WorkDir:          t.WorkDir,
		NeedsVCS:         t.NeedsVCS,
		EstimatedTokens:  t.EstimatedTokens,
		EstimatedSeconds: t.EstimatedSeconds,
	}
	return yaml.Marshal(&doc)
}
