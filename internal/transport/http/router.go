package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/core/ports"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/transport/http/handlers"
	httpmw "github.com/nightshift/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	Tasks   ports.TaskService
	Control ports.ControlService
	// Stats feeds /health; nil when no scheduler runs in this process.
	Stats       func() interface{}
	Logger      *logger.Logger
	Config      *config.Config
	LogInterval time.Duration
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewTaskHandler(cfg.Tasks, cfg.Control, cfg.Logger)
	logStream := handlers.NewLogStreamHandler(cfg.Tasks, cfg.LogInterval, cfg.Logger)
	health := handlers.NewHealthHandler(cfg.Stats)

	app.Get("/health", health.Health)

	// Live task logs
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/tasks/:id/logs", httpmw.AdminAuth(cfg.Config), websocket.New(logStream.Handle))

	api := app.Group("/api/v1")

	tasks := api.Group("/tasks", httpmw.AdminAuth(cfg.Config))
	tasks.Post("/", taskHandler.Submit)
	tasks.Get("/", taskHandler.List)
	tasks.Delete("/", taskHandler.Clear)
	tasks.Get("/:id", taskHandler.Get)
	tasks.Delete("/:id", taskHandler.Delete)
	tasks.Put("/:id/plan", taskHandler.RevisePlan)
	tasks.Post("/:id/approve", taskHandler.Approve)
	tasks.Post("/:id/cancel", taskHandler.Cancel)
	tasks.Post("/:id/pause", taskHandler.Pause)
	tasks.Post("/:id/resume", taskHandler.Resume)
	tasks.Post("/:id/kill", taskHandler.Kill)
	tasks.Get("/:id/logs", taskHandler.Logs)
}
