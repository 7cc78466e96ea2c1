package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/services"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/db"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/infrastructure/process"
	"github.com/nightshift/backend/internal/transport/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, apiKey string) *fiber.App {
	t.Helper()
	log := logger.NewNop()
	conn, err := db.NewSQLite(filepath.Join(t.TempDir(), "api.db"), 5*time.Second, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.RunMigrations(conn))

	repo := db.NewTaskRepository(conn, log)
	control := services.NewControlService(repo, process.NewController(log), time.Second, log)
	tasks := services.NewTaskService(repo, control, log)

	cfg := &config.Config{}
	cfg.Auth.AdminAPIKey = apiKey
	app := NewApp(cfg, log)
	SetupRoutes(app, RouterConfig{
		Tasks:   tasks,
		Control: control,
		Stats:   func() interface{} { return map[string]int{"workers": 2} },
		Logger:  log,
		Config:  cfg,
	})
	return app
}

func do(t *testing.T, app *fiber.App, method, path, contentType, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodeTask(t *testing.T, raw []byte) domain.Task {
	t.Helper()
	var task domain.Task
	require.NoError(t, json.Unmarshal(raw, &task))
	return task
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t, "")
	dir := t.TempDir()

	code, raw := do(t, app, "POST", "/api/v1/tasks", "application/json", `{"description":"write docs"}`)
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	task := decodeTask(t, raw)
	assert.Equal(t, domain.TaskStatusStaged, task.Status)

	code, _ = do(t, app, "POST", "/api/v1/tasks/"+task.ID+"/approve", "", "")
	assert.Equal(t, fiber.StatusBadRequest, code, "no writable paths yet")

	code, raw = do(t, app, "PUT", "/api/v1/tasks/"+task.ID+"/plan", "application/json",
		`{"prompt":"document the API","capabilities":["Edit"],"writable_paths":["`+dir+`"]}`)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	assert.Equal(t, "document the API", decodeTask(t, raw).Prompt)

	code, raw = do(t, app, "POST", "/api/v1/tasks/"+task.ID+"/approve", "", "")
	require.Equal(t, fiber.StatusOK, code, string(raw))
	assert.Equal(t, domain.TaskStatusCommitted, decodeTask(t, raw).Status)

	code, raw = do(t, app, "POST", "/api/v1/tasks/"+task.ID+"/approve", "", "")
	require.Equal(t, fiber.StatusConflict, code)
	var conflict struct {
		Error   string                `json:"error"`
		Details dto.TransitionDetails `json:"details"`
	}
	require.NoError(t, json.Unmarshal(raw, &conflict))
	assert.Equal(t, "committed", conflict.Details.Current)
	assert.Equal(t, []string{"staged"}, conflict.Details.Allowed)

	code, raw = do(t, app, "GET", "/api/v1/tasks?status=committed", "", "")
	require.Equal(t, fiber.StatusOK, code)
	var list dto.TaskListResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, 1, list.Count)

	code, raw = do(t, app, "GET", "/api/v1/tasks/"+task.ID+"/logs", "", "")
	require.Equal(t, fiber.StatusOK, code)
	var logs dto.TaskLogsResponse
	require.NoError(t, json.Unmarshal(raw, &logs))
	assert.Len(t, logs.Logs, 3)

	code, raw = do(t, app, "POST", "/api/v1/tasks/"+task.ID+"/cancel", "", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, domain.TaskStatusCancelled, decodeTask(t, raw).Status)

	code, raw = do(t, app, "DELETE", "/api/v1/tasks", "", "")
	require.Equal(t, fiber.StatusOK, code)
	var cleared dto.ClearResponse
	require.NoError(t, json.Unmarshal(raw, &cleared))
	assert.EqualValues(t, 1, cleared.Removed)
}

func TestDeleteTaskOverHTTP(t *testing.T) {
	app := newTestApp(t, "")

	code, raw := do(t, app, "POST", "/api/v1/tasks", "application/json", `{"description":"scratch"}`)
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	task := decodeTask(t, raw)

	code, raw = do(t, app, "DELETE", "/api/v1/tasks/"+task.ID, "", "")
	require.Equal(t, fiber.StatusOK, code, string(raw))

	code, _ = do(t, app, "GET", "/api/v1/tasks/"+task.ID, "", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	code, _ = do(t, app, "DELETE", "/api/v1/tasks/"+task.ID, "", "")
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestSubmitYAMLPlan(t *testing.T) {
	app := newTestApp(t, "")
	body := "description: tidy imports\nprompt: run goimports\nwritable_paths: [" + t.TempDir() + "]\n"

	code, raw := do(t, app, "POST", "/api/v1/tasks", "application/yaml", body)
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	task := decodeTask(t, raw)
	assert.Equal(t, "run goimports", task.Prompt)
	assert.Len(t, task.WritablePaths, 1)
}

func TestErrorMapping(t *testing.T) {
	app := newTestApp(t, "")

	code, _ := do(t, app, "GET", "/api/v1/tasks/nope", "", "")
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = do(t, app, "POST", "/api/v1/tasks", "application/json", `{"description":`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, app, "POST", "/api/v1/tasks", "application/json", `{"description":"  "}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, app, "GET", "/api/v1/tasks?status=sleeping", "", "")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, app, "POST", "/api/v1/tasks/nope/pause", "", "")
	assert.Equal(t, fiber.StatusNotFound, code)

	code, _ = do(t, app, "GET", "/ws/tasks/x/logs", "", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, code)
}

func TestAdminAuth(t *testing.T) {
	app := newTestApp(t, "s3cret")

	code, _ := do(t, app, "GET", "/api/v1/tasks", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, code)

	req := httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	code, raw := do(t, app, "GET", "/health", "", "")
	assert.Equal(t, fiber.StatusOK, code, "health is public")
	assert.Contains(t, string(raw), `"workers":2`)
}
