// Package worker runs background maintenance alongside the HTTP server.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"repohub/config"
	"repohub/internal/delivery"
	"repohub/internal/domain/lifecycle"
	"repohub/internal/usecase"

	"go.uber.org/fx"
)

// PrunerParams holds dependencies for the revocation pruner.
type PrunerParams struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    *config.Config
	Logger *slog.Logger
	AuthUC usecase.AuthUsecase
}

type revocationPruner struct {
	authUC   usecase.AuthUsecase
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewRevocationPruner creates the delivery that periodically deletes revocation entries
// whose tokens have expired anyway. An interval of zero disables it.
func NewRevocationPruner(params PrunerParams) (delivery.Delivery, error) {
	p := &revocationPruner{
		authUC:   params.AuthUC,
		logger:   params.Logger.With(slog.String("worker", "revocation_pruner")),
		interval: params.Cfg.Auth.RevocationPruneInterval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	params.Lc.Append(fx.Hook{
		OnStop: p.stop,
	})

	return p, nil
}

// Serve prunes once immediately and then on every tick until stopped.
func (p *revocationPruner) Serve(ctx context.Context) error {
	p.started.Store(true)
	defer close(p.done)

	if p.interval <= 0 {
		p.logger.Info("Revocation pruner disabled")

		return nil
	}

	p.logger.Info("Starting revocation pruner", slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *revocationPruner) prune(ctx context.Context) {
	pruneCtx, cancel := context.WithTimeout(ctx, lifecycle.DefaultTimeout)
	defer cancel()

	deleted, err := p.authUC.PruneRevocations(pruneCtx, p.now())
	if err != nil {
		p.logger.Error("Failed to prune revocations", slog.Any("error", err))

		return
	}

	if deleted > 0 {
		p.logger.Info("Pruned expired revocations", slog.Int64("deleted", deleted))
	}
}

func (p *revocationPruner) stop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if !p.started.Load() {
		return nil
	}

	p.logger.Info("Shutting down revocation pruner")

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
