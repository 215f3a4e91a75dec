package middleware

import (
	"context"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/query"
	"github.com/sd8capricon/graph-rag/pkg/store"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

// KnowledgeBaseStore is the registry as seen by the HTTP handlers.
type KnowledgeBaseStore interface {
	GetByID(ctx context.Context, id string) (*common.KnowledgeBase, error)
	UpsertKnowledgeBase(ctx context.Context, kb *common.KnowledgeBase) (bool, error)
}

// JobService submits and tracks ingestion jobs.
type JobService interface {
	Submit(ctx context.Context, kb *common.KnowledgeBase, files []common.JobFile) (*common.Job, error)
	Status(ctx context.Context, jobID string) (*common.Job, error)
	Wait(ctx context.Context, jobID string, interval time.Duration) (*common.Job, error)
}

// Uploader stores uploaded files and returns a path the loaders resolve.
type Uploader interface {
	PutFile(ctx context.Context, prefix, name string, body io.ReadSeeker) (string, error)
}

type App struct {
	KnowledgeBases KnowledgeBaseStore
	Jobs           JobService
	Uploads        Uploader
	AiClient       ai.GraphAIClient
	Graph          store.GraphStore
	Drift          query.DriftConfig
	Key            jwt.Keyfunc
	MasterAPIKey   string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
