package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/gofiber/contrib/websocket"
)

func (s *FiberServer) RegisterFiberRoutes() {
	// Apply CORS middleware
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	// Basic routes
	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	// Intake session routes
	api.Post("/intake/open", s.openIntakeHandler)
	api.Get("/intake/:id", s.getIntakeHandler)
	api.Post("/intake/:id/type", s.typeSelectedHandler)
	api.Post("/intake/:id/details", s.detailsSubmittedHandler)
	api.Post("/intake/:id/image", s.imageReceivedHandler)
	api.Delete("/intake/channel/:ref", s.dropChannelHandler)

	// BR Code routes
	api.Post("/brcode", s.encodeBRCodeHandler)
	api.Post("/brcode/decode", s.decodeBRCodeHandler)

	// Submission review routes
	api.Get("/submissions", s.listSubmissionsHandler)
	api.Post("/submissions/:id/review", s.reviewSubmissionHandler)

	// WebSocket route
	s.App.Get("/ws", websocket.New(s.noticeWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"intake": fiber.Map{
			"status":            "running",
			"active_sessions":   s.registry.Count(),
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}
