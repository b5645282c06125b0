package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	pg "github.com/NordCoder/authd/internal/repository/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		log.Fatal("DB_DSN is empty")
	}

	if err := pg.Migrate(ctx, dsn); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("migrations: up OK")
}
