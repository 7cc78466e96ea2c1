package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nightshift/backend/internal/domain"
)

// Writer persists per-task output documents next to the database:
// <id>_output.json holds the full result, <id>_files.json the file effects.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) OutputPath(taskID string) string {
	return filepath.Join(w.dir, taskID+"_output.json")
}

func (w *Writer) FilesPath(taskID string) string {
	return filepath.Join(w.dir, taskID+"_files.json")
}

type outputDoc struct {
	TaskID string                  `json:"task_id"`
	Status domain.TaskStatus       `json:"status"`
	Result *domain.ExecutionResult `json:"result"`
}

// Write stores both documents for a task that has a result.
func (w *Writer) Write(t *domain.Task) error {
	if t.Result == nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJSON(w.OutputPath(t.ID), outputDoc{TaskID: t.ID, Status: t.Status, Result: t.Result}); err != nil {
		return err
	}
	return writeJSON(w.FilesPath(t.ID), t.Result.Effects)
}

// ReadEffects loads the file-effects document written for taskID.
func (w *Writer) ReadEffects(taskID string) (domain.FileEffects, error) {
	var fx domain.FileEffects
	raw, err := os.ReadFile(w.FilesPath(taskID))
	if err != nil {
		return fx, err
	}
	err = json.Unmarshal(raw, &fx)
	return fx, err
}

func writeJSON(path string, v interface{}) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
