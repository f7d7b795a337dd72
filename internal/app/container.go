package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/config"
	"github.com/jamesclaimtechio/rmcdialer/internal/events"
	"github.com/jamesclaimtechio/rmcdialer/internal/infra/db"
	"github.com/jamesclaimtechio/rmcdialer/internal/infra/redis"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	pgrepo "github.com/jamesclaimtechio/rmcdialer/internal/repository/postgres"
	scyllarepo "github.com/jamesclaimtechio/rmcdialer/internal/repository/scylla"
	callsvc "github.com/jamesclaimtechio/rmcdialer/internal/service/call"
	callbacksvc "github.com/jamesclaimtechio/rmcdialer/internal/service/callback"
	"github.com/jamesclaimtechio/rmcdialer/internal/service/concurrency"
	outcomesvc "github.com/jamesclaimtechio/rmcdialer/internal/service/outcome"
	queuesvc "github.com/jamesclaimtechio/rmcdialer/internal/service/queue"
	"github.com/jamesclaimtechio/rmcdialer/internal/service/scoring"
	telephonySvc "github.com/jamesclaimtechio/rmcdialer/internal/telephony"
	telephonyMock "github.com/jamesclaimtechio/rmcdialer/internal/telephony/mock"
	"github.com/jamesclaimtechio/rmcdialer/internal/users"
	"github.com/jamesclaimtechio/rmcdialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *events.Kafka

	systemAgentID uuid.UUID

	// lazily initialised components
	components struct {
		once         sync.Once
		store        *pgrepo.Store
		repositories *repositories
		services     *services
		publishers   *publishers
		providers    *providers
	}
}

type repositories struct {
	Scores    repository.ScoreRepository
	Queue     repository.QueueRepository
	Sessions  repository.SessionRepository
	Outcomes  repository.OutcomeRepository
	Callbacks repository.CallbackRepository
	Agents    repository.AgentRepository
	EventLog  repository.TelephonyEventLog
}

type services struct {
	Scoring  *scoring.Engine
	Queue    *queuesvc.Service
	Call     *callsvc.Service
	Outcome  *outcomesvc.Recorder
	Callback *callbacksvc.Service
}

type publishers struct {
	CallEvents *events.CallEventPublisher
	Outcomes   *events.OutcomeEventPublisher
}

type providers struct {
	Telephony telephonySvc.Provider
	Users     users.ContextReader
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	systemAgentID, err := uuid.Parse(cfg.Sweeper.SystemAgentID)
	if err != nil {
		return nil, fmt.Errorf("config: sweeper.system_agent_id: %w", err)
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

	kafka, err := events.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,

		systemAgentID: systemAgentID,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		store := pgrepo.NewStore(c.Postgres.DB())

		repos := &repositories{
			Scores:    store.Scores(),
			Queue:     store.Queue(),
			Sessions:  store.Sessions(),
			Outcomes:  store.Outcomes(),
			Callbacks: store.Callbacks(),
			Agents:    store.Agents(),
			EventLog:  scyllarepo.NewEventLog(c.Scylla.Session()),
		}

		pubs := &publishers{
			CallEvents: events.NewCallEventPublisher(c.Kafka, c.Config.Kafka.CallEventTopic),
			Outcomes:   events.NewOutcomeEventPublisher(c.Kafka, c.Config.Kafka.OutcomeTopic),
		}

		providers := &providers{
			Telephony: telephonyMock.NewProvider(c.Config.Telephony),
			Users:     users.NewClient(c.Config.Users, c.Redis.Inner(), c.Logger),
		}

		lease := concurrency.NewAssignmentLease(c.Redis.Inner(), c.Config.Queue.AssignLeaseTTL)

		engine := scoring.NewEngine(repos.Scores)

		queueService := queuesvc.NewService(
			repos.Scores,
			repos.Queue,
			repos.Callbacks,
			lease,
			queuesvc.Policy{
				DefaultPageSize: c.Config.Queue.DefaultPageSize,
				MaxPageSize:     c.Config.Queue.MaxPageSize,
				AffinityGrace:   c.Config.Queue.AffinityGrace,
				MaterializeMax:  c.Config.Queue.MaterializeMax,
			},
			c.Logger,
		)

		callService := callsvc.NewService(
			store,
			repos.Sessions,
			repos.Outcomes,
			repos.EventLog,
			providers.Users,
			providers.Telephony,
			pubs.CallEvents,
			c.Config.Telephony.CallerID,
			c.Logger,
		)

		recorder := outcomesvc.NewRecorder(
			store,
			repos.Sessions,
			engine,
			pubs.Outcomes,
			c.systemAgentID,
			c.Logger,
		)

		callbackService := callbacksvc.NewService(repos.Callbacks, queueService, c.Logger)

		c.components.store = store
		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.providers = providers
		c.components.services = &services{
			Scoring:  engine,
			Queue:    queueService,
			Call:     callService,
			Outcome:  recorder,
			Callback: callbackService,
		}
	})
}

// Store exposes the transactional Postgres store.
func (c *Container) Store() *pgrepo.Store {
	c.initComponents()
	return c.components.store
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

// SweepLock builds the distributed lock guarding the sweeper loop.
func (c *Container) SweepLock() *concurrency.SweepLock {
	prefix := c.Config.Sweeper.LockKeyPrefix
	if prefix == "" {
		prefix = "rmcdialer:sweeper"
	}
	ttl := c.Config.Sweeper.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return concurrency.NewSweepLock(c.Redis.Inner(), prefix, ttl)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.CallEvents != nil {
			if err := p.CallEvents.Close(); err != nil {
				errs = append(errs, fmt.Errorf("call event publisher close: %w", err))
			}
		}
		if p.Outcomes != nil {
			if err := p.Outcomes.Close(); err != nil {
				errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
			}
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
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.CallEventTopic, c.Config.Kafka.OutcomeTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 12, 1)
}
