package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"

	"reminderq/internal/config"
	"reminderq/internal/logging"
	"reminderq/internal/usecase"
)

// Run starts the scan loop and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	logger := logging.New(cfg.Log, "reminder-agent")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	st, err := OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	proc, err := NewProcessor(ctx, cfg, st)
	if err != nil {
		return err
	}

	sched := NewScheduler(cfg.Scan.Interval, func(ctx context.Context) {
		_, _ = proc.Run(ctx)
		notify(ctx, daemon.SdNotifyWatchdog)
	})
	sched.Start(ctx)
	notify(ctx, daemon.SdNotifyReady)
	log.Ctx(ctx).Info().
		Str("app", cfg.App.Name).
		Dur("interval", cfg.Scan.Interval).
		Dur("lookahead", cfg.Scan.LookaheadOrInterval()).
		Int("workers", cfg.Scan.Workers).
		Msg("reminder agent running")

	<-ctx.Done()
	log.Ctx(ctx).Info().Msg("shutting down, waiting for in-flight run")
	notify(ctx, daemon.SdNotifyStopping)
	if !sched.Stop(cfg.Scan.ShutdownGrace) {
		log.Ctx(ctx).Warn().Dur("grace", cfg.Scan.ShutdownGrace).Msg("in-flight run did not finish within grace")
	}
	log.Ctx(ctx).Info().Msg("reminder agent stopped")
	return nil
}

// RunOnce performs a single scan and returns its stats.
func RunOnce(ctx context.Context, cfg *config.Config) (string, error) {
	st, err := OpenStores(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer st.Close()

	proc, err := NewProcessor(ctx, cfg, st)
	if err != nil {
		return "", err
	}
	stats, err := proc.Run(ctx)
	if err != nil {
		return "", err
	}
	return usecase.Describe(stats, usecase.StatusFor(stats, cfg.HealthErrorThreshold)), nil
}

func notify(ctx context.Context, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
