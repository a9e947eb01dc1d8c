package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/taskyard/taskyard/internal/api"
	"github.com/taskyard/taskyard/internal/automigrate"
	"github.com/taskyard/taskyard/internal/config"
	"github.com/taskyard/taskyard/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := automigrate.Run(db, "migrations"); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	go cleanupSessions(db, cfg.SessionCleanup)

	handler := api.NewRouter(cfg, db)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Taskyard API listening on port %s", cfg.Port)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// cleanupSessions prunes expired session tokens on an interval.
func cleanupSessions(db *sql.DB, interval time.Duration) {
	if interval <= 0 {
		return
	}

	users := store.NewUserStore(db)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := users.CleanExpiredSessions(context.Background()); err != nil {
			log.Printf("Session cleanup failed: %v", err)
		}
	}
}
