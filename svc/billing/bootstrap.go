package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/config"
	"github.com/megagig/pharmacare/pkg/email"
	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/httpserver"
	"github.com/megagig/pharmacare/pkg/keylock"
	"github.com/megagig/pharmacare/pkg/mongo"
	"github.com/megagig/pharmacare/pkg/notify"
	"github.com/megagig/pharmacare/pkg/redis"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// Open connects the backends selected by cfg and returns the service
// dependencies. The returned cleanup closes every opened connection and is
// safe to call more than once.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (Deps, func(), error) {
	var (
		closers []func()
		once    sync.Once
	)
	cleanup := func() {
		once.Do(func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d := Deps{
		Metrics: reg,
		Logger:  log,
		Audit:   audit.NewLogger(audit.NewMemoryStorage(), auditOptions()...),
	}

	switch cfg.StoreBackend {
	case BackendMongo:
		var mcfg mongo.Config
		if err := config.Load(&mcfg); err != nil {
			return Deps{}, cleanup, fmt.Errorf("load mongo config: %w", err)
		}
		db, err := mongo.Open(ctx, mcfg)
		if err != nil {
			return Deps{}, cleanup, err
		}
		closers = append(closers, func() { _ = db.Client().Disconnect(context.Background()) })

		store := subscription.NewMongoStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return Deps{}, cleanup, fmt.Errorf("ensure subscription indexes: %w", err)
		}
		storage := audit.NewMongoStorage(db)
		if err := storage.EnsureIndexes(ctx); err != nil {
			return Deps{}, cleanup, fmt.Errorf("ensure audit indexes: %w", err)
		}
		d.Repo = store
		d.Audit = audit.NewLogger(storage, auditOptions()...)
		d.Checks = append(d.Checks, httpserver.Check{Name: "mongo", Fn: mongo.Healthcheck(db.Client())})
	default:
		log.WarnContext(ctx, "using in-memory subscription store, state is lost on restart")
		d.Repo = subscription.NewMemoryStore()
	}

	switch cfg.LockBackend {
	case BackendRedis:
		var rcfg redis.Config
		if err := config.Load(&rcfg); err != nil {
			return Deps{}, cleanup, fmt.Errorf("load redis config: %w", err)
		}
		client, err := redis.Connect(ctx, rcfg)
		if err != nil {
			return Deps{}, cleanup, err
		}
		closers = append(closers, func() { _ = client.Close() })

		d.Locker = keylock.NewRedis(client,
			keylock.WithTTL(cfg.LockTTL),
			keylock.WithLogger(log),
		)
		d.Checks = append(d.Checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	default:
		d.Locker = keylock.NewMemory()
	}

	gateways, err := gateway.NewRegistryFromConfig(cfg.Gateway)
	if err != nil {
		return Deps{}, cleanup, err
	}
	d.Gateways = gateways

	sender, err := email.NewSender(cfg.Email, email.NewLogSender(log))
	if err != nil {
		return Deps{}, cleanup, err
	}
	d.Notifier = notify.NewEmailNotifier(sender)

	return d, cleanup, nil
}

func auditOptions() []audit.Option {
	return []audit.Option{
		audit.WithRequestIDExtractor(func(ctx context.Context) (string, bool) {
			id := middleware.GetReqID(ctx)
			return id, id != ""
		}),
		audit.WithActorExtractor(func(ctx context.Context) (string, bool) {
			p, ok := entitlement.PrincipalFromContext(ctx)
			return p.UserID, ok && p.UserID != ""
		}),
	}
}
