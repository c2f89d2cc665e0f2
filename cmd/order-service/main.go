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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nazeru/medstore-orders-go/internal/auth"
	"github.com/nazeru/medstore-orders-go/internal/config"
	"github.com/nazeru/medstore-orders-go/internal/events"
	"github.com/nazeru/medstore-orders-go/internal/httpapi"
	"github.com/nazeru/medstore-orders-go/internal/order/lifecycle"
	"github.com/nazeru/medstore-orders-go/internal/order/store"
	"github.com/nazeru/medstore-orders-go/internal/proofstore"
	"github.com/nazeru/medstore-orders-go/internal/sequence"
	"github.com/nazeru/medstore-orders-go/internal/storage/memory"
	"github.com/nazeru/medstore-orders-go/internal/storage/postgres"
	"github.com/nazeru/medstore-orders-go/internal/telemetry"
	"github.com/nazeru/medstore-orders-go/pkg/kafka"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/metrics"
	"github.com/nazeru/medstore-orders-go/pkg/outbox"
)

const (
	service    = "order-service"
	relayBatch = 100
)

func main() {
	cfg, err := config.Load(service)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logging.Setup(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
		SampleRate:  1,
	})
	if err != nil {
		log.Fatalf("telemetry error: %v", err)
	}

	var (
		st       store.Store
		seq      store.Sequencer
		pool     *pgxpool.Pool
		outboxDB outbox.DB
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err = connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		st = postgres.New(pool)
		outboxDB = pool
	default:
		mem := memory.New()
		seedDemoCatalog(mem)
		st = mem
	}

	switch cfg.Sequence {
	case config.SequencePostgres:
		seq = sequence.NewPostgres(pool)
	case config.SequenceRedis:
		client := sequence.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer func() { _ = client.Close() }()
		seq = sequence.NewRedis(client)
	default:
		seq = sequence.NewMemory()
	}

	reg := prometheus.DefaultRegisterer
	orderMetrics := metrics.NewOrderMetrics(reg)
	srvMetrics := metrics.NewServerMetrics(reg, "order_service")

	hub := events.NewHub(cfg.EventBuffer)
	sinks := []events.Sink{hub}

	kafkaClient := kafka.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		writer := kafkaClient.NewWriter(cfg.KafkaTopic)
		defer func() { _ = writer.Close() }()
		sinks = append(sinks, events.NewKafkaSink(writer, cfg.KafkaTopic, outboxDB))
		if outboxDB != nil {
			relay := events.NewRelay(outboxDB, writer, relayBatch, cfg.OutboxRelayInterval)
			go relay.Run(ctx)
		}
	}
	emitter := events.NewEmitter(cfg.EventBuffer, orderMetrics, sinks...)

	orders := lifecycle.New(st, seq, emitter,
		lifecycle.WithMetrics(orderMetrics),
		lifecycle.WithTracer(telemetry.Tracer()),
	)

	var proofs proofstore.Store
	if cfg.S3Bucket != "" {
		s3Store, err := proofstore.NewS3Store(ctx, proofstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			log.Fatalf("s3 error: %v", err)
		}
		proofs = s3Store
	} else {
		proofs = proofstore.NewMemoryStore()
	}

	api := httpapi.New(httpapi.Options{
		Orders:         orders,
		Proofs:         proofs,
		Hub:            hub,
		Auth:           auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer),
		Metrics:        srvMetrics,
		CheckoutRPS:    cfg.CheckoutRPS,
		CheckoutBurst:  cfg.CheckoutBurst,
		MaxProofBytes:  cfg.MaxProofBytes,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Log(logging.Fields{
		Service: service,
		Step:    "startup",
		Status:  "listening",
		Message: "storage=" + cfg.Storage + " sequence=" + cfg.Sequence,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := emitter.Close(closeCtx); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "shutdown", Status: "failed", Error: err.Error()})
	}
	if err := shutdownTracing(closeCtx); err != nil {
		logging.Log(logging.Fields{Service: service, Step: "shutdown", Status: "failed", Error: err.Error()})
	}
}

func connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
