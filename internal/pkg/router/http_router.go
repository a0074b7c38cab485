package router

import (
	"github.com/FelixBrandt/hookgate/app/controllers"
	"github.com/FelixBrandt/hookgate/internal/pkg/constants"
	"github.com/FelixBrandt/hookgate/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Initialize webhook controller with processor and monitoring
	controllers.InitializeWebhookController()

	// Provider webhooks (no CSRF, signature-verified in controller)
	app.Post(constants.WebhookIngestRoute, controllers.HandleWebhookIngest)

	// Operational endpoints behind the admin API key
	adminKey := middleware.AdminKeyMiddleware()
	app.Get(constants.AdminHealthRoute, adminKey, controllers.HandleWebhookHealth)
	app.Get(constants.AdminDLQRoute, adminKey, controllers.HandleDeadLetterList)
	app.Post(constants.AdminReprocessRoute, adminKey, controllers.HandleDeadLetterReprocess)
}
