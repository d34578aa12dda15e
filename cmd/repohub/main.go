package main

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"os"

	"repohub/config"
	"repohub/internal/delivery"
	"repohub/internal/delivery/http"
	"repohub/internal/delivery/http/middleware"
	"repohub/internal/delivery/http/router"
	"repohub/internal/delivery/http/router/handler"
	"repohub/internal/delivery/worker"
	"repohub/internal/infra/auth"
	"repohub/internal/infra/cache"
	logs "repohub/internal/infra/log"
	"repohub/internal/infra/metrics"
	"repohub/internal/infra/persistence/postgres"
	"repohub/internal/infra/ratelimit"
	"repohub/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectRepo(),
		injectService(),
		injectUsecase(),
		injectDelivery(),
		injectMiddleware(),
		injectHandler(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
		postgres.New,
		cache.New,
		metrics.New,
		metrics.AsAuthMetrics,
		fx.Annotate(
			metricsHandler,
			fx.ResultTags(`name:"metrics"`),
		),
	)
}

func metricsHandler(m *metrics.Metrics) nethttp.Handler {
	return m.Handler()
}

func injectRepo() fx.Option {
	return fx.Options(
		fx.Provide(
			postgres.NewUserRepository,
			postgres.NewRevokedTokenRepository,
			postgres.NewTransactionManager,
		),
	)
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			auth.NewBcryptHasher,
			auth.NewJWTService,
			ratelimit.New,
		),
	)
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewAuthService,
		),
	)
}

func injectMiddleware() fx.Option {
	return fx.Options(
		fx.Provide(
			middleware.NewAuthMiddleware,
			middleware.NewRateLimitMiddleware,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewAuthHandler,
			router.NewRouter,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				http.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
			fx.Annotate(
				worker.NewRevocationPruner,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

// startServer launches every delivery once all start hooks (database ping, migrations) ran.
func startServer(ctx context.Context, params startServerParams) {
	params.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, delivery := range params.Deliveries {
				go func() {
					if err := delivery.Serve(ctx); err != nil {
						slog.Error("Failed to start server", slog.Any("error", err))
						os.Exit(1)
					}
				}()
			}

			return nil
		},
	})
}
