package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/lead-pipeline-scheduler/internal/admission"
	"github.com/acme/lead-pipeline-scheduler/internal/analytics"
	"github.com/acme/lead-pipeline-scheduler/internal/config"
	"github.com/acme/lead-pipeline-scheduler/internal/infra/db"
	"github.com/acme/lead-pipeline-scheduler/internal/infra/redis"
	"github.com/acme/lead-pipeline-scheduler/internal/lock"
	"github.com/acme/lead-pipeline-scheduler/internal/processing"
	"github.com/acme/lead-pipeline-scheduler/internal/queue"
	"github.com/acme/lead-pipeline-scheduler/internal/repository"
	pgrepo "github.com/acme/lead-pipeline-scheduler/internal/repository/postgres"
	scyllarepo "github.com/acme/lead-pipeline-scheduler/internal/repository/scylla"
	"github.com/acme/lead-pipeline-scheduler/internal/settings"
	"github.com/acme/lead-pipeline-scheduler/internal/transport"
	transportMock "github.com/acme/lead-pipeline-scheduler/internal/transport/mock"
	"github.com/acme/lead-pipeline-scheduler/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		providers    *providers
		lock         *lock.Lock
	}
}

type repositories struct {
	Leads      repository.LeadRepository
	Entries    repository.QueueRepository
	Settings   repository.SettingsRepository
	Stats      repository.StatsRepository
	Deliveries repository.DeliveryLog
}

type services struct {
	Settings   *settings.Service
	Admission  *admission.Service
	Processing *processing.Driver
	Analytics  *analytics.Engine
}

type publishers struct {
	Transitions *queue.TransitionPublisher
	DeadLetters *queue.DeadLetterPublisher
}

type providers struct {
	Transport transport.Provider
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Leads:      pgrepo.NewLeadRepository(c.Postgres.DB()),
			Entries:    pgrepo.NewQueueRepository(c.Postgres.DB()),
			Settings:   pgrepo.NewSettingsRepository(c.Postgres.DB()),
			Stats:      pgrepo.NewStatsRepository(c.Postgres.DB()),
			Deliveries: scyllarepo.NewDeliveryLog(c.Scylla.Session()),
		}

		pubs := &publishers{
			Transitions: queue.NewTransitionPublisher(c.Kafka, c.Config.Kafka.TransitionTopic),
			DeadLetters: queue.NewDeadLetterPublisher(c.Kafka, c.Config.Kafka.DeadLetterTopic),
		}

		provs := &providers{
			Transport: transportMock.NewProvider(c.Config.Transport),
		}

		settingsCache := settings.NewRedisCache(c.Redis.Inner(), c.Config.Scheduler.SettingsCacheTTL)
		settingsSvc := settings.NewService(repos.Settings, settingsCache, c.Logger)

		svcs := &services{
			Settings: settingsSvc,
			Admission: admission.NewService(
				repos.Leads,
				repos.Entries,
				settingsSvc,
				pubs.Transitions,
				c.Logger,
			),
			Processing: processing.NewDriver(
				repos.Leads,
				repos.Entries,
				repos.Deliveries,
				settingsSvc,
				provs.Transport,
				pubs.Transitions,
				pubs.DeadLetters,
				c.Config.Transport.RequestTimeout,
				c.Logger,
			),
			Analytics: analytics.NewEngine(repos.Stats, repos.Entries, settingsSvc, c.Logger),
		}

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.providers = provs
		c.components.services = svcs
		c.components.lock = lock.New(c.Redis.Inner(), c.Config.Scheduler.LockKeyPrefix, c.Config.Scheduler.LockTTL)
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// Lock exposes the scheduler lock.
func (c *Container) Lock() *lock.Lock {
	c.initComponents()
	return c.components.lock
}

// EnsureTopics creates the Kafka topics used by the pipeline.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.TransitionTopic, c.Config.Kafka.DeadLetterTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 3, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if err := p.Transitions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transition publisher close: %w", err))
		}
		if err := p.DeadLetters.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dead letter publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("container close: %v", errs)
	}
	return nil
}
