package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nightshift/backend/internal/domain"
)

// FileNotifier drops one JSON document per finished task into a directory
// that chat or desktop integrations watch.
type FileNotifier struct {
	dir string
}

func NewFileNotifier(dir string) *FileNotifier {
	return &FileNotifier{dir: dir}
}

// Path is where the summary for taskID is written.
func (n *FileNotifier) Path(taskID string) string {
	return filepath.Join(n.dir, taskID+"_notification.json")
}

func (n *FileNotifier) Notify(_ context.Context, s domain.Summary) error {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return fmt.Errorf("create notification dir: %w", err)
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return writeAtomic(n.Path(s.TaskID), body)
}

func (n *FileNotifier) Close() error { return nil }

// writeAtomic writes to a sibling temp file and renames it into place so
// watchers never see a half-written document.
func writeAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
