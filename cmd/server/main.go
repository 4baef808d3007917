package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"business-objects/internal/admin"
	"business-objects/internal/auth"
	"business-objects/internal/config"
	"business-objects/internal/engine"
	"business-objects/internal/instrument"
	"business-objects/internal/metadata"
	"business-objects/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s, db: %s)", cfg.Server.Port, cfg.Database.Driver, cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Registry and model definitions
	reg := metadata.NewRegistry()
	behavior, _ := cfg.Rules.NoAccessBehavior()
	reg.SetNoAccessBehavior(behavior)

	base, err := metadata.LoadDir(ctx, cfg.Rules.ModelsDir)
	if err != nil {
		log.Printf("WARN: Failed to read model files from %s: %v", cfg.Rules.ModelsDir, err)
	}
	if err := metadata.LoadAll(ctx, db.DB, reg, base); err != nil {
		log.Printf("WARN: Failed to load metadata: %v", err)
	}

	// 5. Create tables for every loaded model
	migrator := store.NewMigrator(db)
	for _, m := range reg.AllModels() {
		if err := migrator.Migrate(ctx, m); err != nil {
			log.Printf("WARN: Failed to migrate %s: %v", m.Name(), err)
		}
	}

	// 6. Event buffer and retention
	var events *instrument.EventBuffer
	if cfg.Instrumentation.Enabled {
		events = instrument.NewEventBuffer(db.DB, db.Dialect, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer events.Stop()
		instrument.StartCleanup(ctx, db.DB, db.Dialect, cfg.Instrumentation.RetentionDays, time.Hour)
	}

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	if events != nil {
		app.Use(instrument.Middleware(cfg.Instrumentation, events))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Auth routes (no auth required)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	adminMW := auth.RequireAdmin()

	// 9. Admin routes (auth + admin required)
	var eventHandler *instrument.EventHandler
	if events != nil {
		eventHandler = instrument.NewEventHandler(db.DB, db.Dialect)
	}
	adminHandler := admin.NewHandler(db, reg, migrator, base)
	admin.RegisterAdminRoutes(app, adminHandler, eventHandler, authMW, adminMW, instrument.WithUser())

	// 10. Business object routes. Anonymous callers are allowed through;
	// each model's authorization rules decide what they may do.
	portal := engine.NewPortal(reg, store.NewModelDAO(db))
	engine.RegisterModelRoutes(app, engine.NewHandler(portal), auth.OptionalAuth(cfg.JWTSecret), instrument.WithUser())

	// 11. Start server
	go func() {
		<-ctx.Done()
		log.Println("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("ERROR: %v", err)
	}
}
