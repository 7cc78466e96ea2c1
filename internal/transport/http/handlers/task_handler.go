package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/domain"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/plan"
	"github.com/nightshift/backend/internal/transport/http/dto"
)

type TaskHandler struct {
	tasks   ports.TaskService
	control ports.ControlService
	logger  *logger.Logger
}

func NewTaskHandler(tasks ports.TaskService, control ports.ControlService, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, control: control, logger: logger}
}

// isYAML reports whether the body is a plan document rather than JSON.
func isYAML(c *fiber.Ctx) bool {
	ct := strings.ToLower(c.Get(fiber.HeaderContentType))
	return strings.Contains(ct, "yaml")
}

func (h *TaskHandler) Submit(c *fiber.Ctx) error {
	var in domain.NewTask
	if isYAML(c) {
		doc, err := plan.Parse(c.Body())
		if err != nil {
			return writeError(c, h.logger, "task_submit_plan_invalid", err)
		}
		in = doc.NewTask()
	} else {
		var req dto.SubmitTaskRequest
		if err := c.BodyParser(&req); err != nil {
			h.logger.Warnw("task_submit_body_parse_failed", "error", err)
			return badRequest(c, "invalid request body")
		}
		in = req.ToDomain()
	}

	task, err := h.tasks.Submit(c.UserContext(), in)
	if err != nil {
		return writeError(c, h.logger, "task_submit_failed", err)
	}
	h.logger.Infow("task_submit_success", "id", task.ID)
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *TaskHandler) List(c *fiber.Ctx) error {
	var filter *domain.TaskStatus
	if raw := c.Query("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return writeError(c, h.logger, "task_list_bad_status", err)
		}
		filter = &status
	}

	tasks, err := h.tasks.List(c.UserContext(), filter)
	if err != nil {
		return writeError(c, h.logger, "task_list_failed", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return c.JSON(dto.TaskListResponse{Tasks: tasks, Count: len(tasks)})
}

func (h *TaskHandler) Get(c *fiber.Ctx) error {
	task, err := h.tasks.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, "task_get_failed", err)
	}
	return c.JSON(task)
}

func (h *TaskHandler) RevisePlan(c *fiber.Ctx) error {
	var p domain.Plan
	if isYAML(c) {
		doc, err := plan.Parse(c.Body())
		if err != nil {
			return writeError(c, h.logger, "task_revise_plan_invalid", err)
		}
		p = doc.Plan()
	} else {
		var req dto.PlanRequest
		if err := c.BodyParser(&req); err != nil {
			h.logger.Warnw("task_revise_body_parse_failed", "error", err)
			return badRequest(c, "invalid request body")
		}
		p = req.ToDomain()
	}

	task, err := h.tasks.Revise(c.UserContext(), c.Params("id"), p)
	if err != nil {
		return writeError(c, h.logger, "task_revise_failed", err)
	}
	h.logger.Infow("task_revise_success", "id", task.ID)
	return c.JSON(task)
}

func (h *TaskHandler) Approve(c *fiber.Ctx) error {
	return h.act(c, "approve", h.tasks.Approve)
}

func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	return h.act(c, "cancel", h.tasks.Cancel)
}

func (h *TaskHandler) Pause(c *fiber.Ctx) error {
	return h.act(c, "pause", h.control.Pause)
}

func (h *TaskHandler) Resume(c *fiber.Ctx) error {
	return h.act(c, "resume", h.control.Resume)
}

func (h *TaskHandler) Kill(c *fiber.Ctx) error {
	return h.act(c, "kill", h.control.Kill)
}

func (h *TaskHandler) act(c *fiber.Ctx, name string, fn func(ctx context.Context, id string) (*domain.Task, error)) error {
	id := c.Params("id")
	h.logger.Infow("task_"+name+"_request", "id", id)
	task, err := fn(c.UserContext(), id)
	if err != nil {
		return writeError(c, h.logger, "task_"+name+"_failed", err)
	}
	h.logger.Infow("task_"+name+"_success", "id", id, "status", task.Status)
	return c.JSON(task)
}

func (h *TaskHandler) Logs(c *fiber.Ctx) error {
	after, err := strconv.ParseUint(c.Query("after", "0"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid after cursor")
	}
	id := c.Params("id")
	logs, err := h.tasks.Logs(c.UserContext(), id, uint(after))
	if err != nil {
		return writeError(c, h.logger, "task_logs_failed", err)
	}
	if logs == nil {
		logs = []domain.TaskLog{}
	}
	return c.JSON(dto.TaskLogsResponse{TaskID: id, Logs: logs})
}

func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.tasks.Delete(c.UserContext(), id); err != nil {
		return writeError(c, h.logger, "task_delete_failed", err)
	}
	h.logger.Infow("task_delete_success", "id", id)
	return c.JSON(dto.SuccessResponse{Message: "task deleted"})
}

func (h *TaskHandler) Clear(c *fiber.Ctx) error {
	n, err := h.tasks.ClearAll(c.UserContext())
	if err != nil {
		return writeError(c, h.logger, "task_clear_failed", err)
	}
	h.logger.Infow("task_clear_success", "removed", n)
	return c.JSON(dto.ClearResponse{Removed: n})
}
