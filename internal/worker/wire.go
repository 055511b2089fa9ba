package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"reminderq/internal/config"
	"reminderq/internal/infra/channel"
	"reminderq/internal/infra/genai"
	"reminderq/internal/infra/kafka"
	"reminderq/internal/infra/redisq"
	"reminderq/internal/infra/sqlite"
	"reminderq/internal/ports"
	"reminderq/internal/usecase"
	"reminderq/pkg/backoff"
)

// Stores are the opened persistence backends. Close releases all of them.
type Stores struct {
	SQL        *sqlite.Store
	Redis      *redisq.Client
	Deliveries ports.DeliveryStore
	Health     ports.HealthStore
	Events     ports.Publisher

	closers []func() error
}

// OpenStores opens SQLite for tasks and users, then the configured backends
// for delivery records, run health and delivery events.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	st := &Stores{}
	db, err := sqlite.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	st.SQL = db
	st.closers = append(st.closers, db.Close)
	st.Deliveries, st.Health = db, db

	needRedis := driver(cfg.Store.Records) == "redis" || driver(cfg.Events.Driver) == "redis"
	if needRedis {
		cli := redisq.New(cfg.Redis)
		if err := cli.Connect(ctx); err != nil {
			st.Close()
			return nil, err
		}
		st.Redis = cli
		st.closers = append(st.closers, cli.Close)
	}
	if driver(cfg.Store.Records) == "redis" {
		st.Deliveries, st.Health = st.Redis, st.Redis
	}

	switch driver(cfg.Events.Driver) {
	case "redis":
		st.Events = redisq.NewEvents(st.Redis)
	case "kafka":
		p, err := kafka.NewPublisher(cfg.Kafka)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.Events = p
		st.closers = append(st.closers, p.Close)
	default:
		st.Events = ports.NopPublisher{}
	}

	log.Ctx(ctx).Info().
		Str("records", driver(cfg.Store.Records)).
		Str("events", driver(cfg.Events.Driver)).
		Msg("stores ready")
	return st, nil
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
	s.closers = nil
}

// NewProcessor assembles the run pipeline from cfg.
func NewProcessor(ctx context.Context, cfg *config.Config, st *Stores) (usecase.Processor, error) {
	ch, err := channel.New(ctx, cfg)
	if err != nil {
		return usecase.Processor{}, fmt.Errorf("delivery channel: %w", err)
	}

	var gen ports.Generator
	if cfg.Generation.Enabled {
		g, err := genai.New(cfg.Generation)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("generation unavailable, every body will use the template")
		} else {
			gen = g
		}
	}

	return usecase.Processor{
		Selector: usecase.Selector{
			Tasks:     st.SQL,
			Lookahead: cfg.Scan.LookaheadOrInterval(),
			Limit:     cfg.Scan.BatchLimit,
		},
		Guard: usecase.Guard{Deliveries: st.Deliveries, Tolerance: cfg.DuplicateTolerance},
		Users: st.SQL,
		Composer: usecase.Composer{
			Generator:  gen,
			Timeout:    cfg.Generation.Timeout,
			SenderName: cfg.App.SenderName,
			AppURL:     cfg.App.URL,
		},
		Dispatcher: usecase.Dispatcher{
			Channel:     ch,
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff: backoff.Policy{
				Base:       cfg.Retry.Base,
				Max:        cfg.Retry.MaxDelay,
				Multiplier: cfg.Retry.Multiplier,
				Jitter:     cfg.Retry.Jitter,
			},
			Timeout: cfg.Delivery.Timeout,
			Limiter: usecase.NewLimiter(cfg.Delivery.RatePerMinute),
		},
		Recorder: usecase.Recorder{
			Deliveries:     st.Deliveries,
			Health:         st.Health,
			Events:         st.Events,
			ErrorThreshold: cfg.HealthErrorThreshold,
		},
		GracePeriod: cfg.Scan.GracePeriod,
		Workers:     cfg.Scan.Workers,
		Now:         usecase.NaiveClock(cfg.Scan.UTCOffset),
	}, nil
}

func driver(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
