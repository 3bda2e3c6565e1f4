package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/gluk-w/termgate/internal/auth"
	"github.com/gluk-w/termgate/internal/config"
	"github.com/gluk-w/termgate/internal/database"
	"github.com/gluk-w/termgate/internal/handlers"
	"github.com/gluk-w/termgate/internal/logging"
	"github.com/gluk-w/termgate/internal/middleware"
	"github.com/gluk-w/termgate/internal/secrets"
	"github.com/gluk-w/termgate/internal/sftpbridge"
	"github.com/gluk-w/termgate/internal/sshbridge"
	"github.com/gluk-w/termgate/internal/ticket"
	"github.com/gluk-w/termgate/internal/wsterm"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	// The server is useless without the credential key: refuse to start
	// rather than fail on the first host save.
	secretsSvc, err := secrets.NewService(config.Cfg.SecretKey)
	if err != nil {
		log.Fatalf("Secret key init: %v", err)
	}
	handlers.Secrets = secretsSvc

	if config.Cfg.HostsSeedPath != "" {
		n, err := database.SeedHostsFromYAML(config.Cfg.HostsSeedPath, secretsSvc.Encrypt)
		if err != nil {
			log.Fatalf("Host seed import: %v", err)
		}
		log.Printf("Imported %d hosts from %s", n, config.Cfg.HostsSeedPath)
	}

	tickets := ticket.NewStore(config.Cfg.TicketTTL)
	handlers.Tickets = tickets

	registry := sshbridge.NewRegistry()
	handlers.Bridges = registry

	handlers.SFTP = sftpbridge.Bridge{ConnectTimeout: config.Cfg.SSHConnectTimeout}

	terminal := &wsterm.Handler{
		Tickets:     tickets,
		Registry:    registry,
		Opener:      sshbridge.Opener{ConnectTimeout: config.Cfg.SSHConnectTimeout},
		AllowDirect: config.Cfg.AllowDirectCredentials,
	}
	if terminal.AllowDirect {
		log.Printf("WARNING: direct credential connects are enabled")
	}

	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Background reaping: expired-but-unconsumed tickets and stale sessions.
	jobs := cron.New()
	jobs.AddFunc("@every 1m", func() {
		if n := tickets.Sweep(); n > 0 {
			log.Printf("[ticket] swept %d expired tickets", n)
		}
	})
	jobs.AddFunc("@every 10m", sessionStore.Cleanup)
	jobs.Start()
	defer jobs.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)

		// Protected routes (require auth)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionStore))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)
			r.Post("/auth/password", handlers.ChangePassword)

			// Host inventory
			r.Get("/hosts", handlers.ListHosts)
			r.Post("/hosts", handlers.CreateHost)
			r.Get("/hosts/{id}", handlers.GetHost)
			r.Put("/hosts/{id}", handlers.UpdateHost)
			r.Delete("/hosts/{id}", handlers.DeleteHost)

			// Ticket issuance
			r.Get("/hosts/{id}/ssh-ticket", handlers.IssueSSHTicket)
			r.Get("/hosts/{id}/sftp-ticket", handlers.IssueSFTPTicket)

			// Terminal WebSocket
			r.Get("/terminal", terminal.ServeWS)

			// SFTP file operations (one ticket per operation)
			r.Get("/sftp/list", handlers.SFTPList)
			r.Get("/sftp/download", handlers.SFTPDownload)
			r.Post("/sftp/upload", handlers.SFTPUpload)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.Get("/logs", handlers.GetServerLogs)
			})
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: termgate --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'. Note: existing sessions will expire within 1 hour.\n", *username)
	}
}
