package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Routes bundles the handlers mounted by Register
type Routes struct {
	Upload *UploadHandler
	Jobs   *JobHandler
	Stream *StreamHandler
	Logs   *LogBuffer
}

// Register mounts the API on app
func Register(app *fiber.App, r Routes) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	api := app.Group("/api")
	api.Post("/upload", r.Upload.Handle)
	api.Get("/status/:job_id", r.Jobs.Status)
	api.Get("/result/:job_id", r.Jobs.Result)
	api.Get("/download/:job_id", r.Jobs.Download)
	api.Get("/jobs", r.Jobs.History)
	if r.Logs != nil {
		api.Get("/logs", r.Logs.Handle)
	}

	if r.Stream != nil {
		app.Use("/ws", Upgrade)
		app.Get("/ws/status/:job_id", websocket.New(r.Stream.Handle))
	}
}
