package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ReconBox/config"
	"github.com/BearBump/ReconBox/internal/broker/kafka"
	"github.com/BearBump/ReconBox/internal/cache/rediscache"
	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/BearBump/ReconBox/internal/integrations/carrier/delhivery"
	"github.com/BearBump/ReconBox/internal/integrations/carrier/fake"
	"github.com/BearBump/ReconBox/internal/integrations/carrier/shiprocket"
	"github.com/BearBump/ReconBox/internal/services/recon"
	"github.com/BearBump/ReconBox/internal/storage/pgdelivery"
)

type reconAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     reconAPIOpts
	svc      *recon.Service
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapReconAPI() *reconAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Recon.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Recon.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "recon-api"
	}
	topic := cfg.Kafka.DeliveryReconciledTopic
	if topic == "" {
		topic = "delivery.reconciled"
	}
	cacheTTL := time.Duration(cfg.Recon.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	freshness := time.Duration(cfg.Recon.FreshnessSeconds) * time.Second
	adapterTimeout := time.Duration(cfg.Recon.AdapterTimeoutSeconds) * time.Second

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	svc := recon.New(st, buildRegistry(cfg.Carriers), cfg.Carriers, producer, topic).
		WithCache(rc, cacheTTL).
		WithRateLimiter(rl).
		WithFreshness(freshness).
		WithAdapterTimeout(adapterTimeout).
		WithPlanner(recon.PlannerConfigFrom(cfg.Recon))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &reconAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: reconAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		svc:      svc,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

// buildRegistry собирает адаптеры по конфигу. Неизвестный код с включённым
// API получает детерминированный fake, чтобы стенд работал без боевых ключей.
func buildRegistry(carriers []config.CarrierConfig) *carrier.Registry {
	reg := carrier.NewRegistry()
	for _, c := range carriers {
		if !c.Usable() {
			continue
		}
		switch c.Code {
		case "DELHIVERY":
			reg.Register(delhivery.New(c.APIEndpoint, c.APIKey, 0))
		case "SHIPROCKET":
			reg.Register(shiprocket.New(c.APIEndpoint, c.Email, c.Password, 0))
		default:
			reg.Register(fake.New(c.Code))
		}
	}
	return reg
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdelivery.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdelivery.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *reconAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *reconAPIApp) Run() error {
	return runReconAPI(a.ctx, a.opts, a.svc, a.consumer)
}
