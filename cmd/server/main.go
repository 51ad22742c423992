package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-preserve/pkg/preserve"
	"github.com/tendant/simple-preserve/pkg/preserve/api"
	"github.com/tendant/simple-preserve/pkg/preserve/config"
)

type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`

	DatabaseType string `env:"DATABASE_TYPE" env-default:"memory"`
	DatabaseURL  string `env:"DATABASE_URL" env-default:""`

	StorageType string `env:"STORAGE_TYPE" env-default:"memory"`
	S3          S3Config

	QueueType string `env:"QUEUE_TYPE" env-default:"memory"`
	NATS      NATSConfig

	// Comma-separated institution specs: key=id:outgoing:incoming
	Institutions string `env:"INSTITUTIONS" env-default:""`
}

type S3Config struct {
	Endpoint        string `env:"AWS_S3_ENDPOINT" env-default:""`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" env-default:""`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" env-default:""`
	Bucket          string `env:"AWS_S3_BUCKET" env-default:"preserve-bucket"`
	Region          string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	UseSSL          bool   `env:"AWS_S3_USE_SSL" env-default:"false"`
	UsePathStyle    bool   `env:"AWS_S3_USE_PATH_STYLE" env-default:"true"`
	CreateBucket    bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
}

type NATSConfig struct {
	URL        string `env:"NATS_URL" env-default:""`
	Name       string `env:"NATS_NAME" env-default:"simple-preserve"`
	QueueGroup string `env:"NATS_QUEUE_GROUP" env-default:""`
}

func (c Config) toServerConfig() (config.ServerConfig, error) {
	cfg := config.Defaults()
	cfg.Port = c.Port
	cfg.Environment = c.Environment
	cfg.DatabaseType = c.DatabaseType
	cfg.DatabaseURL = c.DatabaseURL
	cfg.StorageType = c.StorageType
	cfg.S3 = config.S3Config{
		Region:                 c.S3.Region,
		Bucket:                 c.S3.Bucket,
		AccessKeyID:            c.S3.AccessKeyID,
		SecretAccessKey:        c.S3.SecretAccessKey,
		Endpoint:               c.S3.Endpoint,
		UseSSL:                 c.S3.UseSSL,
		UsePathStyle:           c.S3.UsePathStyle,
		CreateBucketIfNotExist: c.S3.CreateBucket,
	}
	cfg.QueueType = c.QueueType
	cfg.NATS = config.NATSConfig{
		URL:        c.NATS.URL,
		Name:       c.NATS.Name,
		QueueGroup: c.NATS.QueueGroup,
	}

	if c.Institutions != "" {
		institutions, err := parseInstitutions(c.Institutions)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg.Institutions = institutions
	}

	return cfg, nil
}

// parseInstitutions parses "key=id:outgoing:incoming" specs separated by
// commas, e.g. "uiuc=3f1...:uiuc_to_medusa:medusa_to_uiuc".
func parseInstitutions(raw string) ([]preserve.Institution, error) {
	var institutions []preserve.Institution
	for _, spec := range strings.Split(raw, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		key, rest, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid institution spec %q", spec)
		}
		parts := strings.Split(rest, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid institution spec %q, expected key=id:outgoing:incoming", spec)
		}
		id, err := uuid.Parse(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid institution id in %q: %w", spec, err)
		}
		institutions = append(institutions, preserve.Institution{
			ID:            id,
			Key:           key,
			OutgoingQueue: parts[1],
			IncomingQueue: parts[2],
		})
	}
	return institutions, nil
}

func main() {
	var envConfig Config
	if err := cleanenv.ReadEnv(&envConfig); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	serverConfig, err := envConfig.toServerConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	svc, repo, queue, err := serverConfig.BuildService(ctx)
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}

	ledger := preserve.NewLedger(repo)
	handler := preserve.NewMessageHandler(repo, svc, nil)

	// One subscription per institution's response queue
	var subscriptions []preserve.Subscription
	for _, inst := range serverConfig.Institutions {
		sub, err := handler.Consume(ctx, queue, inst.IncomingQueue)
		if err != nil {
			log.Fatalf("Failed to subscribe to %s: %v", inst.IncomingQueue, err)
		}
		slog.Info("Consuming responses", "institution", inst.Key, "queue", inst.IncomingQueue)
		subscriptions = append(subscriptions, sub)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/bitstreams", api.NewBitstreamsHandler(svc, ledger, serverConfig.Institutions).Routes())
		r.Mount("/ingests", api.NewIngestsHandler(svc).Routes())
		r.Mount("/stats", api.NewStatsHandler(ledger).Routes())
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverConfig.Port),
		Handler: r,
	}

	go func() {
		slog.Info("Preservation server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"storage", serverConfig.StorageType,
			"queue", serverConfig.QueueType)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, sub := range subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("Failed to unsubscribe", "error", err)
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	slog.Info("Server exiting")
}
