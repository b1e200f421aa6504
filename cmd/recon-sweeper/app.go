package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/ReconBox/config"
	"github.com/BearBump/ReconBox/internal/broker/kafka"
	"github.com/BearBump/ReconBox/internal/cache/rediscache"
	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/BearBump/ReconBox/internal/integrations/carrier/delhivery"
	"github.com/BearBump/ReconBox/internal/integrations/carrier/fake"
	"github.com/BearBump/ReconBox/internal/integrations/carrier/shiprocket"
	"github.com/BearBump/ReconBox/internal/services/recon"
	"github.com/BearBump/ReconBox/internal/services/sweeper"
	"github.com/BearBump/ReconBox/internal/storage/pgdelivery"
)

// reconRepository объединяет потребности сервиса сверки и sweeper'а;
// pgdelivery.Storage реализует оба.
type reconRepository interface {
	recon.Repository
	sweeper.Repository
}

type sweeperFactories struct {
	newStorage     func(cfg *config.Config) (repo reconRepository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) recon.Producer
	newRateLimiter func(cfg *config.Config) recon.RateLimiter
	newRegistry    func(cfg *config.Config) *carrier.Registry
}

func defaultSweeperFactories() sweeperFactories {
	return sweeperFactories{
		newStorage: func(cfg *config.Config) (reconRepository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgdelivery.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) recon.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) recon.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newRegistry: func(cfg *config.Config) *carrier.Registry {
			reg := carrier.NewRegistry()
			for _, c := range cfg.Carriers {
				if !c.Usable() {
					continue
				}
				switch c.Code {
				case "DELHIVERY":
					reg.Register(delhivery.New(c.APIEndpoint, c.APIKey, 0))
				case "SHIPROCKET":
					reg.Register(shiprocket.New(c.APIEndpoint, c.Email, c.Password, 0))
				default:
					// Стенд без боевых ключей работает на детерминированном fake.
					reg.Register(fake.New(c.Code))
				}
			}
			return reg
		},
	}
}

func buildSweeper(cfg *config.Config, f sweeperFactories) (*sweeper.Sweeper, func(), error) {
	topic := cfg.Kafka.DeliveryReconciledTopic
	if topic == "" {
		topic = "delivery.reconciled"
	}

	pollInterval := time.Duration(cfg.Recon.SweeperPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	batchSize := cfg.Recon.SweeperBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	lease := time.Duration(cfg.Recon.SweeperLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	adapterTimeout := time.Duration(cfg.Recon.AdapterTimeoutSeconds) * time.Second

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := recon.New(repo, f.newRegistry(cfg), cfg.Carriers, f.newProducer(cfg), topic).
		WithRateLimiter(f.newRateLimiter(cfg)).
		WithAdapterTimeout(adapterTimeout).
		WithPlanner(recon.PlannerConfigFrom(cfg.Recon))

	s := sweeper.New(repo, svc).WithSettings(pollInterval, batchSize, lease)
	return s, closeFn, nil
}

func RunReconSweeper(ctx context.Context, cfg *config.Config, f sweeperFactories) error {
	s, closeFn, err := buildSweeper(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return s.Run(ctx)
}
