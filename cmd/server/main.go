package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/retail-banking/transfer-service/internal/config"
	"github.com/retail-banking/transfer-service/internal/db"
	"github.com/retail-banking/transfer-service/internal/domain"
	"github.com/retail-banking/transfer-service/internal/events"
	"github.com/retail-banking/transfer-service/internal/server"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()
	log.Println("database connection pool initialized")

	accountRepo := db.NewAccountRepository(pool.Pool)
	transactionRepo := db.NewTransactionRepository(pool.Pool)
	auditRepo := db.NewAuditRepository(pool.Pool)
	recoveryRepo := db.NewRecoveryRepository(pool.Pool)
	txManager := db.NewTransactionManager(pool.Pool, cfg.LockTimeout)

	var publisher domain.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		rabbitPublisher, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
		if err != nil {
			log.Fatalf("failed to create rabbitmq publisher: %v", err)
		}
		defer rabbitPublisher.Close()
		publisher = rabbitPublisher
		log.Printf("event publishing enabled: exchange=%s, routing_key=%s", cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
	} else {
		log.Println("RABBITMQ_URL not set, event publishing disabled")
	}

	engine := domain.NewTransferEngine(accountRepo, transactionRepo, auditRepo, txManager, publisher)
	log.Println("transfer engine initialized")

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.New(engine, recoveryRepo),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("transfer-service HTTP server starting on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
