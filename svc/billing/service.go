package billing

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/megagig/pharmacare/handler"
	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/compat"
	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/httpserver"
	"github.com/megagig/pharmacare/pkg/keylock"
	"github.com/megagig/pharmacare/pkg/lifecycle"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/notify"
	"github.com/megagig/pharmacare/pkg/subscription"
	"github.com/megagig/pharmacare/pkg/webhook"
)

// Deps are the collaborators the service is built from. Zero values fall
// back to in-process defaults, which is what tests use.
type Deps struct {
	Repo     subscription.Repository
	Locker   keylock.Locker
	Gateways *gateway.Registry
	Notifier notify.Notifier
	Audit    audit.Recorder
	Metrics  *prometheus.Registry
	Checks   []httpserver.Check
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Service exposes the billing engine over HTTP.
type Service struct {
	cfg       Config
	log       *slog.Logger
	repo      subscription.Repository
	engine    *lifecycle.Engine
	operator  *lifecycle.Operator
	shim      *compat.Shim
	resolver  *entitlement.Resolver
	receiver  *webhook.Receiver
	gateways  *gateway.Registry
	metrics   *prometheus.Registry
	checks    []httpserver.Check
	errorFunc handler.ErrorHandler
}

// New wires the engine, resolver and webhook receiver. It fails only on
// invalid webhook configuration.
func New(cfg Config, d Deps) (*Service, error) {
	if d.Repo == nil {
		d.Repo = subscription.NewMemoryStore()
	}
	if d.Locker == nil {
		d.Locker = keylock.NewMemory()
	}
	if d.Gateways == nil {
		d.Gateways = gateway.NewRegistry()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = prometheus.NewRegistry()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	engineOpts := []lifecycle.Option{
		lifecycle.WithLocker(d.Locker),
		lifecycle.WithNotifier(d.Notifier),
		lifecycle.WithAudit(d.Audit),
		lifecycle.WithGateways(d.Gateways),
		lifecycle.WithClock(d.Clock),
		lifecycle.WithLogger(d.Logger),
		lifecycle.WithSuspensionPolicy(cfg.Policy.Suspension()),
	}
	if cfg.NotifierTimeout > 0 {
		engineOpts = append(engineOpts, lifecycle.WithNotifierTimeout(cfg.NotifierTimeout))
	}
	if cfg.Gateway.Timeout > 0 {
		engineOpts = append(engineOpts, lifecycle.WithGatewayTimeout(cfg.Gateway.Timeout))
	}
	if cfg.Policy.GracePeriod > 0 {
		engineOpts = append(engineOpts, lifecycle.WithGracePeriod(cfg.Policy.GracePeriod))
	}
	engine := lifecycle.NewEngine(d.Repo, engineOpts...)

	shimOpts := []compat.Option{compat.WithLogger(d.Logger)}
	if cfg.PlanCacheTTL > 0 {
		shimOpts = append(shimOpts, compat.WithPlanTTL(cfg.PlanCacheTTL))
	}
	shim := compat.NewShim(d.Repo, shimOpts...)

	providers, err := webhook.ProvidersFromConfig(cfg.Webhook)
	if err != nil {
		return nil, err
	}
	receiverOpts := []webhook.Option{
		webhook.WithLogger(d.Logger),
		webhook.WithMetrics(webhook.NewMetrics(d.Metrics)),
	}
	if cfg.Webhook.MaxBodySize > 0 {
		receiverOpts = append(receiverOpts, webhook.WithMaxBodySize(cfg.Webhook.MaxBodySize))
	}

	log := d.Logger.With(logger.Component("billing"))
	return &Service{
		cfg:      cfg,
		log:      log,
		repo:     d.Repo,
		engine:   engine,
		operator: lifecycle.NewOperator(engine),
		shim:     shim,
		resolver: entitlement.NewResolver(shim,
			entitlement.WithClock(d.Clock),
			entitlement.WithLogger(d.Logger),
			entitlement.WithMetrics(entitlement.NewMetrics(d.Metrics)),
		),
		receiver:  webhook.NewReceiver(engine, providers, receiverOpts...),
		gateways:  d.Gateways,
		metrics:   d.Metrics,
		checks:    d.Checks,
		errorFunc: handler.NewErrorHandler(d.Logger, classifyError),
	}, nil
}

// Resolver returns the entitlement resolver, for mounting
// entitlement.Middleware on application routes.
func (s *Service) Resolver() *entitlement.Resolver { return s.resolver }

// Operator returns the administrative operations, shared with the CLI.
func (s *Service) Operator() *lifecycle.Operator { return s.operator }
