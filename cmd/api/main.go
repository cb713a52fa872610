package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/bookhaven/library-service/internal/handlers"
	"github.com/bookhaven/library-service/internal/mailer"
	"github.com/bookhaven/library-service/internal/repository"
	"github.com/bookhaven/library-service/internal/service"
	"github.com/bookhaven/library-service/pkg/config"
	"github.com/bookhaven/library-service/pkg/database"
	"github.com/bookhaven/library-service/pkg/events"
	"github.com/bookhaven/library-service/pkg/logger"
	mw "github.com/bookhaven/library-service/pkg/middleware"
	"github.com/bookhaven/library-service/pkg/redis"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Repositories
	bookRepo := repository.NewBookRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	borrowRepo := repository.NewBorrowRepository(pool)

	// Services
	mailSvc := newMailer(cfg)
	authService := service.NewAuthService(userRepo, borrowRepo, eventBus, cfg)
	bookService := service.NewBookService(bookRepo, borrowRepo, eventBus)
	borrowService := service.NewBorrowService(borrowRepo, bookRepo, userRepo, mailSvc, eventBus, cfg)

	if err := authService.EnsureAdmin(ctx); err != nil {
		logger.Error("Failed to ensure admin account", "error", err)
		os.Exit(1)
	}

	h := handlers.New(authService, bookService, borrowService, cfg)

	loginLimiter := mw.NewRateLimiter(redis.NewCounter(redisClient), mw.RateLimitConfig{
		Requests: 10,
		Window:   time.Minute,
		KeyFunc: func(r *http.Request) []string {
			return []string{"login:" + mw.ClientIP(r)}
		},
	})
	idempotency := mw.Idempotency(redis.NewKVStore(redisClient))

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("library"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.With(loginLimiter.Middleware()).Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT(""))
				r.Get("/me", h.Me)
				r.Post("/change-password", h.ChangePassword)
			})
		})

		// Catalog routes
		r.Route("/books", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT(""))
				r.Get("/", h.ListBooks)
				r.Get("/search", h.SearchBooks)
				r.Get("/{id}", h.GetBook)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT("admin"))
				r.Post("/", h.CreateBook)
				r.Patch("/{id}", h.UpdateBook)
				r.Delete("/{id}", h.DeleteBook)
				r.Get("/{id}/borrows", h.ListBookBorrows)
			})
		})

		// User management routes
		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT("admin"))
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
				r.Delete("/{id}", h.DeleteUser)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT(""))
				r.Get("/{id}", h.GetUser)
				r.Patch("/{id}", h.UpdateUser)
				r.Get("/{id}/borrows", h.ListUserBorrows)
			})
		})

		// Borrow lifecycle routes
		r.Route("/borrows", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT(""))
				r.Get("/", h.ListBorrows)
				r.Get("/{id}", h.GetBorrow)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.RequireJWT("admin"))
				r.With(idempotency).Post("/", h.CreateBorrow)
				r.Post("/{id}/return", h.ReturnBorrow)
				r.Get("/overdue", h.ListOverdue)
				r.Post("/{id}/remind", h.RemindOverdue)
			})
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down library service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Library service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting library service", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Library service error", "error", err)
		os.Exit(1)
	}
}

func newMailer(cfg *config.Config) mailer.Service {
	switch {
	case cfg.Email.DevMode:
		return mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.SMTPFrom)
	default:
		return mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}
}
