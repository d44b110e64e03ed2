package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/auth"
	"github.com/frahmantamala/payment-orchestration/internal/core/events"
	"github.com/frahmantamala/payment-orchestration/internal/hook"
	"github.com/frahmantamala/payment-orchestration/internal/lock"
	"github.com/frahmantamala/payment-orchestration/internal/method"
	methodPostgres "github.com/frahmantamala/payment-orchestration/internal/method/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/metrics"
	"github.com/frahmantamala/payment-orchestration/internal/orchestrator"
	"github.com/frahmantamala/payment-orchestration/internal/order"
	orderPostgres "github.com/frahmantamala/payment-orchestration/internal/order/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/builtin"
	"github.com/frahmantamala/payment-orchestration/internal/refund"
	"github.com/frahmantamala/payment-orchestration/internal/secret"
	secretPostgres "github.com/frahmantamala/payment-orchestration/internal/secret/postgres"
	"github.com/frahmantamala/payment-orchestration/internal/transport/rest"
)

// hookLogSettled is the hook id merchants can use to only log settlements.
const hookLogSettled = "log_settled"

// App holds the wired services shared by the server and the CLI commands.
type App struct {
	Config       *internal.Config
	DB           *sqlx.DB
	Gorm         *gorm.DB
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Hooks        *hook.Registry
	Orders       *order.Service
	Methods      *method.Service
	Orchestrator *orchestrator.Orchestrator
	Refunds      *refund.Coordinator
	Tokens       *auth.Service
	// Checks are the dependencies reported by the health endpoint.
	Checks  map[string]rest.Check
	closers []func() error
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error("failed to release resource", "error", err)
		}
	}
}

func newApp(cfg *internal.Config, reg prometheus.Registerer, lg *slog.Logger) (*App, error) {
	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app := &App{
		Config:  cfg,
		DB:      db,
		Logger:  lg,
		Checks:  map[string]rest.Check{"postgres": db.PingContext},
		closers: []func() error{db.Close},
	}

	app.Gorm, err = gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	cipher, err := secret.NewCipher(cfg.Security.SettingsEncryptionKey)
	if err != nil {
		app.Close()
		return nil, err
	}

	locker, err := newLocker(cfg.Payment, lg)
	if err != nil {
		app.Close()
		return nil, err
	}
	if rl, ok := locker.(redisLocker); ok {
		app.closers = append(app.closers, rl.Close)
		app.Checks["redis"] = rl.ping
	}

	registry, err := builtin.NewRegistry()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to register plugins: %w", err)
	}

	app.Metrics = metrics.New(reg)
	app.Hooks = hook.NewRegistry()
	if err := app.Hooks.Register(hookLogSettled, hook.LogHandler(lg)); err != nil {
		app.Close()
		return nil, err
	}

	orders := orderPostgres.NewOrderRepository(app.Gorm)
	app.Orders = order.NewService(orders, app.Hooks, cfg.Payment.Currency(), lg)
	app.Methods = method.NewService(
		methodPostgres.NewMethodRepository(app.Gorm),
		secret.NewStore(secretPostgres.NewSettingRepository(app.Gorm), cipher, lg),
		registry,
		method.RuntimeConfig{
			Orders:      orders,
			HTTPClient:  &http.Client{Timeout: providerTimeout(cfg.Payment)},
			CallbackURL: cfg.Payment.CallbackURL,
		},
		lg,
	)

	bus := events.NewEventBus(lg)
	hook.NewInvoker(app.Hooks, orders, app.Metrics, lg).Subscribe(bus)

	app.Orchestrator = orchestrator.New(orchestrator.Dependencies{
		Orders:          orders,
		Methods:         app.Methods,
		Drivers:         registry,
		Locker:          locker,
		Events:          bus,
		Metrics:         app.Metrics,
		Logger:          lg,
		ProviderTimeout: providerTimeout(cfg.Payment),
	})
	app.Refunds = refund.NewCoordinator(orders, app.Methods, locker, app.Metrics, providerTimeout(cfg.Payment), lg)
	app.Tokens = auth.NewService(auth.NewJWTTokenGenerator(cfg.Security.AdminJWTSecret, cfg.Security.JWTIssuer))
	return app, nil
}

func providerTimeout(cfg internal.PaymentConfig) time.Duration {
	if cfg.ProviderTimeout <= 0 {
		return 15 * time.Second
	}
	return cfg.ProviderTimeout
}

type redisLocker struct {
	*lock.RedisLocker
	close func() error
	ping  func(context.Context) error
}

func (l redisLocker) Close() error { return l.close() }

func newLocker(cfg internal.PaymentConfig, lg *slog.Logger) (lock.Locker, error) {
	if cfg.RedisURL == "" {
		return lock.NewLocalLocker(), nil
	}
	cli, err := lock.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	lg.Info("using redis order lock")
	return redisLocker{
		RedisLocker: lock.NewRedisLocker(cli, cfg.LockTTL, lg),
		close:       cli.Close,
		ping:        func(ctx context.Context) error { return cli.Ping(ctx).Err() },
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}
