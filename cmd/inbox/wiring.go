package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gocql/gocql"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"estatedesk/internal/app/commands"
	"estatedesk/internal/app/handlers/conversations"
	"estatedesk/internal/app/inbox"
	"estatedesk/internal/app/middleware"
	appoutbox "estatedesk/internal/app/outbox"
	"estatedesk/internal/app/queries"
	"estatedesk/internal/infra/broker/kafka"
	"estatedesk/internal/infra/broker/rabbitmq"
	rediscache "estatedesk/internal/infra/cache/redis"
	"estatedesk/internal/infra/config"
	mongostore "estatedesk/internal/infra/db/mongo"
	"estatedesk/internal/infra/db/relational"
	ginserver "estatedesk/internal/infra/http/gin"
	"estatedesk/internal/infra/obs"
	infraoutbox "estatedesk/internal/infra/outbox"
	"estatedesk/internal/infra/storage/memory"
	"estatedesk/internal/infra/storage/scylla"
)

// outboxBackend is both ends of the outbox: the engine appends, the relay claims.
type outboxBackend interface {
	appoutbox.Outbox
	infraoutbox.Queue
}

func correlationHeaders(ctx context.Context) map[string]string {
	if id := obs.RequestIDFromContext(ctx); id != "" {
		return map[string]string{"x-request-id": id}
	}
	return nil
}

type relayProducer interface {
	infraoutbox.Producer
	Close() error
}

type application struct {
	handlers ginserver.Handlers
	health   obs.HealthHandlers
	sessions *inbox.Sessions

	memInquiries *memory.InquiryRepository
	memBuyers    *memory.BuyerDirectory
	memChat      *memory.ChatStore

	worker   *infraoutbox.Worker
	consumer *kafka.Consumer
	bg       errgroup.Group

	closeOnce sync.Once
	closers   []func(ctx context.Context) error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}
	var checks []obs.Check

	inquiries, err := app.buildInquiryStore(cfg, &checks)
	if err != nil {
		app.close(logger)
		return nil, err
	}

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient, err = rediscache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return redisClient.Close() })
		checks = append(checks, obs.Check{Name: "redis", Probe: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	chat, err := app.buildChatStore(ctx, cfg, redisClient, logger, &checks)
	if err != nil {
		app.close(logger)
		return nil, err
	}

	var (
		buyers      inbox.BuyerDirectory
		idStore     middleware.IdempotencyStore
		processed   kafka.Deduper
		outboxStore outboxBackend
	)
	if cfg.MongoURI != "" {
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			app.close(logger)
			return nil, fmt.Errorf("mongo: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		checks = append(checks, obs.Check{Name: "mongo", Probe: client.Ping})
		buyers = mongostore.NewBuyerDirectory(client.DB)
		replays, err := mongostore.NewIdempotencyStore(ctx, client.DB)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		idStore = replays
		processed = mongostore.NewProcessedEvents(client.DB, cfg.KafkaGroupID)
		outboxStore = infraoutbox.NewStore(client.DB)
	} else {
		app.memBuyers = memory.NewBuyerDirectory()
		buyers = app.memBuyers
		idStore = memory.NewIdempotencyStore()
		processed = memory.NewProcessedEvents()
		outboxStore = memory.NewOutbox()
	}
	if redisClient != nil {
		buyers = &rediscache.CachedBuyerDirectory{Client: redisClient, Source: buyers, TTL: cfg.BuyerCacheTTL, Logger: logger}
	}

	sink := appoutbox.Sink{Box: outboxStore, Headers: correlationHeaders}
	factory := func(agentID string) *inbox.Inbox {
		return inbox.New(inbox.Options{
			AgentID:          agentID,
			PollInterval:     cfg.PollInterval,
			FetchConcurrency: cfg.MessageFetchConcurrency,
		}, inbox.Deps{
			Inquiries: inquiries,
			Chat:      chat,
			Buyers:    buyers,
			Events:    sink,
			Logger:    logger.With("agent_id", agentID),
		})
	}
	app.sessions = inbox.NewSessions(ctx, factory, logger)
	app.closers = append(app.closers, func(context.Context) error {
		app.sessions.Close()
		return nil
	})

	producer, err := buildProducer(cfg)
	if err != nil {
		app.close(logger)
		return nil, err
	}
	if producer != nil {
		app.closers = append(app.closers, func(context.Context) error { return producer.Close() })
		if cfg.OutboxRelay {
			app.worker = &infraoutbox.Worker{
				Store:       outboxStore,
				Producer:    producer,
				Interval:    cfg.OutboxPollInterval,
				TopicPrefix: cfg.KafkaTopicPrefix,
				Backoff:     cfg.RetryBackoff,
				MaxAttempts: cfg.OutboxMaxAttempts,
				Logger:      logger,
			}
		}
	}

	if cfg.Broker == "kafka" {
		handler := &kafka.InquiryEventsHandler{Dedup: processed, Refresher: app.sessions, Logger: logger}
		topics := []string{cfg.KafkaTopicPrefix + cfg.InquiryEventsTopic}
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, topics, nil, handler, logger)
		if err != nil {
			app.close(logger)
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		app.consumer = consumer
		app.closers = append(app.closers, func(context.Context) error { return consumer.Close() })
	}

	commandBus := commands.NewInMemoryBus()
	conversations.Register(commandBus, app.sessions)
	queryBus := queries.NewInMemoryBus()
	conversations.RegisterQueries(queryBus, app.sessions)

	authorizer := conversations.AgentAuthorizer{}
	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.Authorization(authorizer),
		middleware.Validation(),
		middleware.Idempotency(idStore, nil),
	)
	queryBusWithMiddleware := middleware.ChainQueries(
		queryBus,
		middleware.QueryLogging(logger),
		middleware.QueryAuthorization(authorizer),
		middleware.QueryValidation(),
	)

	app.handlers = ginserver.Handlers{
		Inbox: ginserver.InboxHandler{
			Commands: commandBusWithMiddleware,
			Queries:  queryBusWithMiddleware,
			Sessions: app.sessions,
			Logger:   logger,
		},
		AuthMiddleware: ginserver.AgentAuth{Secret: []byte(cfg.AuthJWTSecret), Logger: logger}.Handle,
	}
	app.health = obs.HealthHandlers{Checks: checks}
	return app, nil
}

func (a *application) buildInquiryStore(cfg config.Config, checks *[]obs.Check) (inbox.InquiryStore, error) {
	switch cfg.InquiryStore {
	case "postgres", "sqlite":
		db, err := relational.Open(cfg.InquiryStore, cfg.InquiryDSN)
		if err != nil {
			return nil, fmt.Errorf("inquiry store: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("inquiry store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })
		*checks = append(*checks, obs.Check{Name: "inquiries", Probe: sqlDB.PingContext})
		return relational.NewInquiryStore(db), nil
	default:
		a.memInquiries = memory.NewInquiryRepository()
		return a.memInquiries, nil
	}
}

func (a *application) buildChatStore(ctx context.Context, cfg config.Config, redisClient *goredis.Client, logger *slog.Logger, checks *[]obs.Check) (inbox.ChatStore, error) {
	if cfg.ChatStore != "scylla" {
		a.memChat = memory.NewChatStore()
		return a.memChat, nil
	}
	session, err := scylla.NewSession(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("scylla: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		session.Close()
		return nil
	})
	*checks = append(*checks, obs.Check{Name: "scylla", Probe: func(ctx context.Context) error {
		return session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Consistency(gocql.One).Exec()
	}})
	store := scylla.NewStore(session, logger)
	store.WatchInterval = cfg.ChatPollInterval
	if redisClient != nil {
		store.Feed = rediscache.NewNotifier(redisClient)
	}
	return store, nil
}

func buildProducer(cfg config.Config) (relayProducer, error) {
	switch cfg.Broker {
	case "kafka":
		p, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return p, nil
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		return p, nil
	default:
		return nil, nil
	}
}

// startBackground runs the outbox relay and the inquiry event consumer until ctx ends.
func (a *application) startBackground(ctx context.Context, logger *slog.Logger) {
	if a.worker != nil {
		a.bg.Go(func() error {
			logger.Info("outbox relay started")
			if err := a.worker.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("outbox relay stopped", "error", err)
			}
			return nil
		})
	}
	if a.consumer != nil {
		a.bg.Go(func() error {
			logger.Info("inquiry events consumer started", "topics", a.consumer.Topics())
			if err := a.consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("inquiry events consumer stopped", "error", err)
			}
			return nil
		})
	}
}

// close releases resources in reverse order of acquisition.
func (a *application) close(logger *slog.Logger) {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				logger.Warn("resource close failed", "error", err)
			}
		}
		_ = a.bg.Wait()
	})
}
