package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sd8capricon/graph-rag/internal/bootstrap"
	"github.com/sd8capricon/graph-rag/internal/jobs"
	"github.com/sd8capricon/graph-rag/internal/queue"
	mid "github.com/sd8capricon/graph-rag/internal/server/middleware"
	"github.com/sd8capricon/graph-rag/internal/storage"
	"github.com/sd8capricon/graph-rag/internal/util"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	pgxstore "github.com/sd8capricon/graph-rag/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance with validation, the app context and every
// route registered.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("512M"))

	RegisterRoutes(e)
	return e
}

// Migrate applies the SQL migrations in dir to databaseURL.
func Migrate(dir, databaseURL string) error {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Migrate(util.GetEnvString("MIGRATIONS_DIR", "migrations"), util.GetEnv("DATABASE_URL")); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}

	key, err := mid.NewKeyfunc(util.GetEnv("AUTH_URL"), util.GetEnv("AUTH_SECRET"))
	if err != nil {
		logger.Fatal("Failed to set up authentication", "err", err)
	}

	aiClient, err := bootstrap.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	graphStore, err := bootstrap.NewGraphStore(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to Neo4j", "err", err)
	}
	defer graphStore.Close(context.Background())

	pool, err := bootstrap.NewPostgresPool(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer pool.Close()
	registry := pgxstore.New(pool)

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	app := &mid.App{
		KnowledgeBases: registry,
		Jobs: jobs.NewManager(jobs.NewManagerParams{
			Registry:  registry,
			Store:     registry,
			Publisher: queue.NewPublisher(ch),
			QueueName: queue.IngestQueue,
		}),
		AiClient:     aiClient,
		Graph:        graphStore,
		Drift:        bootstrap.DriftConfig(),
		Key:          key,
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
	}

	if bucket := util.GetEnv("AWS_BUCKET"); bucket != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.Uploads = storage.NewUploader(s3Client, bucket)
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
