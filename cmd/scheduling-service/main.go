package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	schedcache "github.com/brightsteps/scheduling-backend/internal/scheduling/cache"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/consumers"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/engine"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/events"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/handler"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/repository"
	"github.com/brightsteps/scheduling-backend/internal/scheduling/service"
	"github.com/brightsteps/scheduling-backend/pkg/cache"
	"github.com/brightsteps/scheduling-backend/pkg/clock"
	"github.com/brightsteps/scheduling-backend/pkg/config"
	"github.com/brightsteps/scheduling-backend/pkg/database"
	"github.com/brightsteps/scheduling-backend/pkg/httputil"
	"github.com/brightsteps/scheduling-backend/pkg/logger"
	"github.com/brightsteps/scheduling-backend/pkg/messaging"
)

func main() {
	// Load configuration
	cfg, err := config.Load("scheduling-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("scheduling-service", cfg.Server.Environment)
	log.Info().Msg("starting Scheduling Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to Redis
	redis, err := cache.New(&cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redis.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize broadcast publisher
	publisher, err := events.NewSchedulePublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create schedule publisher")
	}

	// Facility calendar and clock
	calendar, err := clock.NewBusinessCalendar(cfg.Scheduling.Timezone,
		clock.WithHours(cfg.Scheduling.BusinessHoursStart, cfg.Scheduling.BusinessHoursEnd),
		clock.WithHolidays(cfg.Scheduling.Holidays))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid facility calendar configuration")
	}
	clk := clock.Real{}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	teamRepo := repository.NewTeamRepository(db)
	rbtRepo := repository.NewRBTRepository(db)
	clientRepo := repository.NewClientRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	eventLogRepo := repository.NewEventLogRepository(db)

	// Scheduling engine and availability cache
	constraintEngine := engine.NewConstraintEngine(calendar, clk)
	scorer := engine.NewContinuityScorer(clk, cfg.Scheduling.ContinuityRecencyDays)
	availabilityCache := schedcache.New(redis, cfg.Cache, log)

	// Initialize services
	schedulingService := service.NewSchedulingService(
		sessionRepo, teamRepo, rbtRepo, clientRepo, availabilityRepo,
		constraintEngine, scorer, availabilityCache, publisher,
		clk, calendar, cfg.Scheduling, log)
	cancellationService := service.NewCancellationService(
		sessionRepo, teamRepo, eventLogRepo, scorer, availabilityCache,
		publisher, clk, log)
	unavailabilityService := service.NewUnavailabilityService(
		sessionRepo, teamRepo, rbtRepo, availabilityRepo, eventLogRepo,
		constraintEngine, scorer, availabilityCache, publisher,
		clk, calendar, cfg.Scheduling, log)
	optimizationService := service.NewOptimizationService(
		sessionRepo, teamRepo, availabilityRepo, constraintEngine, scorer,
		clk, calendar, cfg.Scheduling, log)
	teamService := service.NewTeamService(
		teamRepo, rbtRepo, clientRepo, availabilityCache, publisher, clk, log)

	// Start the user replication consumer
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	userConsumer, err := consumers.NewUserEventConsumer(rmq, userRepo, availabilityCache, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user event consumer")
	}
	if err := userConsumer.Start(consumerCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user event consumer")
	}

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(schedulingService, cancellationService, log)
	unavailabilityHandler := handler.NewUnavailabilityHandler(unavailabilityService, log)
	optimizationHandler := handler.NewOptimizationHandler(optimizationService, log)
	teamHandler := handler.NewTeamHandler(teamService, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.ActorMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Email", "X-User-Role"},
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "scheduling-service",
			"database": db.Health(r.Context()),
			"redis":    redis.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/schedule", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Post("/bulk", sessionHandler.BulkCreate)
			r.Post("/cancel/bulk", sessionHandler.BulkCancel)
			r.Get("/{id}", sessionHandler.Get)
			r.Post("/{id}/reschedule", sessionHandler.Reschedule)
			r.Post("/{id}/cancel", sessionHandler.Cancel)
			r.Get("/{id}/optimize", optimizationHandler.Optimize)
			r.Get("/{id}/impact", optimizationHandler.Impact)
		})

		r.Get("/clients/{clientId}/sessions", sessionHandler.ListByClient)
		r.Get("/rbts/{rbtId}/sessions", sessionHandler.ListByRBT)
		r.Get("/alternatives", sessionHandler.Alternatives)
		r.Get("/cancellations/stats", sessionHandler.CancellationStats)

		r.Route("/unavailability", func(r chi.Router) {
			r.Post("/", unavailabilityHandler.Declare)
			r.Post("/bulk", unavailabilityHandler.BulkDeclare)
			r.Post("/{rbtId}/resolve", unavailabilityHandler.Resolve)
		})
	})

	r.Route("/api/v1/teams", func(r chi.Router) {
		r.Post("/", teamHandler.Create)
		r.Get("/{id}", teamHandler.Get)
		r.Get("/client/{clientId}", teamHandler.GetByClient)
		r.Post("/{id}/rbts", teamHandler.AddRBT)
		r.Delete("/{id}/rbts/{rbtId}", teamHandler.RemoveRBT)
		r.Put("/{id}/primary", teamHandler.ChangePrimary)
		r.Post("/{id}/end", teamHandler.End)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
