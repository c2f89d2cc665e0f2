package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/medstore-orders-go/internal/config"
	"github.com/nazeru/medstore-orders-go/internal/notify"
	"github.com/nazeru/medstore-orders-go/internal/storage/postgres"
	"github.com/nazeru/medstore-orders-go/pkg/kafka"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/metrics"
)

const service = "notification-service"

func main() {
	cfg, err := config.Load(service)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Storage != config.StoragePostgres {
		log.Fatalf("config error: %s needs STORAGE=postgres", service)
	}
	logging.Setup(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		log.Fatalf("db connect error: %v", err)
	}
	defer pool.Close()
	if err := postgres.Migrate(connectCtx, pool); err != nil {
		cancel()
		log.Fatalf("db migrate error: %v", err)
	}
	cancel()

	srvMetrics := metrics.NewServerMetrics(prometheus.DefaultRegisterer, "notification_service")

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		reader := kafkaClient.NewReader(cfg.KafkaTopic, cfg.KafkaGroupID)
		defer func() { _ = reader.Close() }()
		handler := notify.NewHandler(notify.NewPostgresRepository(pool), notify.LogMailer{})
		go notify.NewConsumer(reader, handler).Run(ctx)
	} else {
		logging.Log(logging.Fields{Service: service, Step: "startup", Status: "idle", Message: "KAFKA_BROKERS is empty, not consuming"})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if err := pool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			srvMetrics.Observe("health", http.StatusServiceUnavailable, time.Since(start))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		srvMetrics.Observe("health", http.StatusOK, time.Since(start))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("%s listening on :%s", service, cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
