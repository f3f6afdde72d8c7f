package reguaflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/RealZimboGuy/reguaflow/internal/config"
	"github.com/RealZimboGuy/reguaflow/internal/controllers"
	"github.com/RealZimboGuy/reguaflow/internal/engine"
	"github.com/RealZimboGuy/reguaflow/internal/messaging"
	"github.com/RealZimboGuy/reguaflow/internal/migrations"
	"github.com/RealZimboGuy/reguaflow/internal/repository"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
)

// App holds the wired engine: repositories, the node driver, the resumer and the HTTP handlers.
type App struct {
	DB         *sql.DB
	Graphs     *repository.GraphRepository
	Clients    *repository.ClientRepository
	Channels   *repository.ChannelRepository
	Executions *repository.ExecutionRepository
	Driver     *engine.Driver
	Resumer    *engine.Resumer
	Metrics    *engine.Metrics
	Registry   *prometheus.Registry
}

// OpenDatabase runs the embedded migrations for the configured database type and opens a pool.
func OpenDatabase(ctx context.Context) (*sql.DB, error) {
	switch databaseType := config.GetSystemSettingString(config.DATABASE_TYPE); databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		return setupPostgresDatabase(ctx)
	case config.DATABASE_TYPE_SQLLITE:
		return setupSqlLiteDatabase(ctx)
	case config.DATABASE_TYPE_MYSQL:
		return setupMysqlDatabase(ctx)
	default:
		return nil, fmt.Errorf("%s must be one of %s, %s, %s (got %q)", config.DATABASE_TYPE,
			config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL, config.DATABASE_TYPE_SQLLITE, databaseType)
	}
}

// Migrate applies pending migrations without opening a pool.
func Migrate() error {
	switch databaseType := config.GetSystemSettingString(config.DATABASE_TYPE); databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		dbURL, err := requireURL()
		if err != nil {
			return err
		}
		return migrations.Up(migrations.Postgres, dbURL)
	case config.DATABASE_TYPE_SQLLITE:
		return migrations.Up(migrations.SQLite, "sqlite3://"+config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME))
	case config.DATABASE_TYPE_MYSQL:
		dbURL, err := mysqlURL()
		if err != nil {
			return err
		}
		return migrations.Up(migrations.MySQL, withParam(dbURL, "multiStatements", "true"))
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s (got %q)", config.DATABASE_TYPE,
			config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL, config.DATABASE_TYPE_SQLLITE, databaseType)
	}
}

func requireURL() (string, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return "", fmt.Errorf("%s must be set for database type %s", config.DATABASE_URL, config.GetSystemSettingString(config.DATABASE_TYPE))
	}
	return dbURL, nil
}

func setupPostgresDatabase(ctx context.Context) (*sql.DB, error) {
	dbURL, err := requireURL()
	if err != nil {
		return nil, err
	}
	slog.Info("Using Postgres database")
	slog.Info("Running migrations")
	if err := migrations.Up(migrations.Postgres, dbURL); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return repository.OpenDB(ctx, "postgres", dbURL)
}

func setupSqlLiteDatabase(ctx context.Context) (*sql.DB, error) {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		return nil, fmt.Errorf("%s must be set", config.DATABASE_SQLLITE_FILE_NAME)
	}
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := migrations.Up(migrations.SQLite, "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return repository.OpenDB(ctx, "sqlite3", fileName)
}

func mysqlURL() (string, error) {
	dbURL, err := requireURL()
	if err != nil {
		return "", err
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return "", fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		return "", fmt.Errorf("%s must start with 'mysql://' for MySQL", config.DATABASE_URL)
	}
	return dbURL, nil
}

func setupMysqlDatabase(ctx context.Context) (*sql.DB, error) {
	dbURL, err := mysqlURL()
	if err != nil {
		return nil, err
	}
	slog.Info("Using MySQL database")
	slog.Info("Running migrations")
	if err := migrations.Up(migrations.MySQL, withParam(dbURL, "multiStatements", "true")); err != nil {
		return nil, fmt.Errorf("migrate mysql: %w", err)
	}
	// clientFoundRows makes UPDATE report matched rather than changed rows
	dsn := withParam(strings.TrimPrefix(dbURL, "mysql://"), "clientFoundRows", "true")
	return repository.OpenDB(ctx, "mysql", dsn)
}

func withParam(dsn string, key string, value string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + value
}

// New wires the engine on top of an open database.
func New(db *sql.DB) *App {
	clock := core.NewRealClock()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(registry)

	app := &App{
		DB:         db,
		Graphs:     repository.NewGraphRepository(db),
		Clients:    repository.NewClientRepository(db, clock),
		Channels:   repository.NewChannelRepository(db),
		Executions: repository.NewExecutionRepository(db, clock),
		Metrics:    metrics,
		Registry:   registry,
	}

	senders := messaging.NewDefaultRegistry(config.GetSystemSettingDuration(config.SENDER_TIMEOUT))
	evaluator := engine.NewEvaluator(app.Clients, app.Channels, senders, clock)
	app.Driver = engine.NewDriver(app.Graphs, app.Clients, app.Executions, evaluator, clock,
		engine.WithMaxSteps(config.GetSystemSettingInteger(config.ENGINE_MAX_STEPS)),
		engine.WithMetrics(metrics),
	)
	app.Resumer = engine.NewResumer(app.Executions, app.Driver, clock, metrics, engine.ResumerConfig{
		PollSchedule:   config.GetSystemSettingString(config.RESUME_SCHEDULE),
		RepairSchedule: config.GetSystemSettingString(config.STUCK_EXECUTIONS_SCHEDULE),
		BatchSize:      config.GetSystemSettingInteger(config.RESUME_BATCH_SIZE),
		Workers:        config.GetSystemSettingInteger(config.RESUME_WORKERS),
		RepairAfter:    time.Duration(config.GetSystemSettingInteger(config.STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES)) * time.Minute,
	})
	return app
}

// RegisterRoutes mounts the API and the system endpoints on mux.
func (a *App) RegisterRoutes(mux *http.ServeMux) {
	auth := controllers.NewAuthController(config.GetSystemSettingList(config.API_KEY_HASHES))
	controllers.NewExecutionsController(auth, a.Driver, a.Graphs, a.Executions,
		config.GetSystemSettingInteger(config.BATCH_CONCURRENCY)).RegisterRoutes(mux)
	(&controllers.SystemController{DB: a.DB, Gatherer: a.Registry}).RegisterRoutes(mux)
}

// Start boots tracing, the database, the resumer and the HTTP server.
// It blocks until ctx is cancelled or the server fails, then shuts down gracefully.
func Start(ctx context.Context, mux *http.ServeMux) error {
	shutdownTracing, err := SetupTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("Failed to shut down tracer provider", "error", err)
		}
	}()

	db, err := OpenDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	// resumer workers exit only when runCtx is done, so cancel before Stop waits on them
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	app := New(db)
	if err := app.Resumer.Start(runCtx); err != nil {
		return err
	}
	defer func() {
		cancelRun()
		app.Resumer.Stop()
	}()

	if mux == nil {
		mux = http.NewServeMux()
	}
	app.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("HTTP server failed", "error", err)
		return err
	case <-runCtx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// SetupLogger installs a tint handler as the default slog logger.
func SetupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
