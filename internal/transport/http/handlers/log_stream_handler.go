package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/dto"
)

// LogStreamHandler tails a task's log over a websocket. It polls the store,
// so it also sees lines written by a scheduler in another process.
type LogStreamHandler struct {
	tasks    ports.TaskService
	interval time.Duration
	logger   *logger.Logger
}

func NewLogStreamHandler(tasks ports.TaskService, interval time.Duration, logger *logger.Logger) *LogStreamHandler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &LogStreamHandler{tasks: tasks, interval: interval, logger: logger}
}

// streamEnd is the last frame sent once the task is terminal.
type streamEnd struct {
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
	Done   bool              `json:"done"`
}

func (h *LogStreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()
	id := c.Params("id")
	after, _ := strconv.ParseUint(c.Query("after", "0"), 10, 64)
	cursor := uint(after)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Reading is the only way to notice the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Infow("log_stream_start", "id", id, "after", cursor)
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		// Read status before logs so the final batch is never missed.
		task, err := h.tasks.Get(ctx, id)
		if err != nil {
			h.logger.Warnw("log_stream_task_failed", "id", id, "error", err)
			_ = c.WriteJSON(dto.ErrorResponse{Error: err.Error()})
			return
		}
		logs, err := h.tasks.Logs(ctx, id, cursor)
		if err != nil {
			h.logger.Warnw("log_stream_read_failed", "id", id, "error", err)
			_ = c.WriteJSON(dto.ErrorResponse{Error: err.Error()})
			return
		}
		for _, l := range logs {
			if err := c.WriteJSON(l); err != nil {
				h.logger.Infow("log_stream_client_gone", "id", id)
				return
			}
			cursor = l.ID
		}
		if task.Status.IsTerminal() {
			_ = c.WriteJSON(streamEnd{TaskID: id, Status: task.Status, Done: true})
			h.logger.Infow("log_stream_done", "id", id, "status", task.Status)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
