package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"pixdesk/internal/cache"
	"pixdesk/internal/database"
	"pixdesk/internal/intake"
	"pixdesk/internal/sink"
)

type FiberServer struct {
	*fiber.App

	db       database.Service
	cache    cache.Service
	store    sink.Store
	registry *intake.Registry
	hub      *Hub
}

func New() *FiberServer {
	// Initialize database
	db := database.New()

	// Initialize Redis cache. Intake degrades gracefully without it: the
	// warn limiter falls back to process memory and submissions skip the
	// cache mirror.
	redisService := cache.New()
	if redisService == nil {
		log.Println("[SERVER] Redis unavailable, running with in-memory rate limiting")
	}

	hub := NewHub()
	cfg := intake.LoadConfig()

	var store *sink.PostgresStore
	var rl intake.RateLimiter
	if redisService != nil {
		store = sink.NewPostgresStore(db.Pool(), redisService.GetClient())
		rl = cache.NewWarnLimiter(redisService.GetClient(), cfg.WarnCooldown)
	} else {
		store = sink.NewPostgresStore(db.Pool(), nil)
		rl = intake.NewMemoryLimiter(cfg.WarnCooldown)
	}

	registry := intake.NewRegistry(cfg, store, hub, rl)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "pixdesk",
			AppName:       "pixdesk",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:       db,
		cache:    redisService,
		store:    store,
		registry: registry,
		hub:      hub,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()

	log.Println("[SERVER] Intake registry ready")

	return server
}

// Shutdown gracefully shuts down the server and its backing services.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
