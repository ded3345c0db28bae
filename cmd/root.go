package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/techday-registration/internal/cache"
	"github.com/Shivanand-hulikatti/techday-registration/internal/config"
	"github.com/Shivanand-hulikatti/techday-registration/internal/database"
	"github.com/Shivanand-hulikatti/techday-registration/internal/logging"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/queue"
	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
	"github.com/Shivanand-hulikatti/techday-registration/internal/service"
)

var (
	cfgFile   string
	useMemory bool
	cfg       config.Config
	logger    *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "techday",
	Short:         "Techday registration service",
	Long:          `Registration for the techday event: admission control, automatic session scheduling and the HTTP API behind the registration form.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err = logging.New(os.Stderr, cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./techday.yaml when present)")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false,
		"use the in-process store instead of PostgreSQL (data is lost on exit)")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, admissionCmd, consumeCmd, tokenCmd)
}

// openStore connects to the configured store. The returned func releases it.
func openStore(ctx context.Context) (repository.Store, func(), error) {
	if useMemory {
		logger.Warn("using in-memory store")
		return repository.NewMemoryStore(model.AdmissionConfig{MaxUsers: cfg.Admission.MaxUsers}), func() {}, nil
	}
	pool, err := database.NewPool(ctx, cfg.DB, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("connected to postgres", "host", cfg.DB.Host, "db", cfg.DB.Name)
	return repository.NewPostgresStore(pool), pool.Close, nil
}

// statusCache prefers Redis so every instance sees the same answer and
// falls back to an in-process cache.
func statusCache() (cache.StatusCache, func()) {
	if client := cache.NewRedisClient(cfg.Redis, logger); client != nil {
		logger.Info("admission status cached in redis", "addr", cfg.Redis.Addr)
		return cache.NewRedis(client, "techday", cfg.Cache.TTL, logger), func() { _ = client.Close() }
	}
	return cache.NewMemory(cfg.Cache.TTL, logger), func() {}
}

func publisher() queue.Publisher {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("rabbitmq not configured, registration events are not published")
		return queue.NopPublisher{}
	}
	return queue.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, cfg.RabbitMQ.PublishTimeout, logger)
}

// services bundles the service layer built on one store.
type services struct {
	gate          *service.AdmissionGate
	registrations *service.RegistrationService
	catalog       *service.CatalogService
	validator     *service.Validator
}

func newServices(store repository.Store, statusCache cache.StatusCache, opts ...service.Option) (*services, error) {
	policy, err := service.ParseSlotPolicy(cfg.Registration.SlotPolicy)
	if err != nil {
		return nil, err
	}
	reg := cfg.Registration
	gate := service.NewAdmissionGate(store, statusCache, reg.StoreTimeout, logger)
	validator := service.NewValidator(reg.InternalDomain, reg.InternalOrganisation, reg.Departments)
	opts = append([]service.Option{
		service.WithLogger(logger),
		service.WithRetry(reg.MaxRetries, reg.RetryBackoff),
		service.WithStoreTimeout(reg.StoreTimeout),
	}, opts...)

	return &services{
		gate:          gate,
		registrations: service.NewRegistrationService(store, gate, service.NewSlotAssigner(policy, logger), validator, opts...),
		catalog:       service.NewCatalogService(store, gate, reg.StoreTimeout, logger),
		validator:     validator,
	}, nil
}
