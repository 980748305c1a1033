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

	"github.com/kaiwa-app/kaiwa/internal/ai"
	"github.com/kaiwa-app/kaiwa/internal/chat"
	"github.com/kaiwa-app/kaiwa/internal/config"
	"github.com/kaiwa-app/kaiwa/internal/db"
	"github.com/kaiwa-app/kaiwa/internal/httpapi"
	"github.com/kaiwa-app/kaiwa/internal/store/memstore"
	"github.com/kaiwa-app/kaiwa/internal/store/rabbitmq"
	"github.com/kaiwa-app/kaiwa/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDriver, cfg.DBDSN)

	var sessions chat.SessionStore
	switch cfg.SessionStore {
	case "memory":
		sessions = memstore.New(cfg.SessionTTL)
	default:
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rds.Ping(pingCtx); err != nil {
			cancel()
			log.Fatalf("redis ping: %v", err)
		}
		cancel()
		defer rds.Close()
		sessions = rds
	}

	publisher, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer publisher.Close()

	gateway, err := ai.NewOpenAIGateway(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GatewayTimeout)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(repo, sessions, publisher, gateway, cfg.OpenAIModel)

	router := httpapi.NewRouter(gdb, cfg, svc)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server started addr=%s session_store=%s exchange=%s", cfg.HTTPAddr, cfg.SessionStore, cfg.RabbitExchange)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
