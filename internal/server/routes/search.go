package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sd8capricon/graph-rag/internal/server/middleware"
	"github.com/sd8capricon/graph-rag/pkg/ai"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	"github.com/sd8capricon/graph-rag/pkg/query"
)

func SearchHandler(c echo.Context) error {
	type searchBody struct {
		Query        string `json:"query" validate:"required"`
		TopK         *int   `json:"top_k" validate:"omitempty,min=1,max=50"`
		MaxDepth     *int   `json:"max_depth" validate:"omitempty,min=0,max=4"`
		MaxFollowUps *int   `json:"max_follow_ups" validate:"omitempty,min=0,max=10"`
	}

	type searchResponse struct {
		Message   string                    `json:"message"`
		Facts     []string                  `json:"facts"`
		Formatted string                    `json:"formatted"`
		Tree      *query.Node               `json:"tree,omitempty"`
		Trace     *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(searchBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, searchResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, searchResponse{Message: "Invalid request body"})
	}

	kb, ok, err := loadKnowledgeBase(c)
	if !ok {
		return err
	}

	app := c.(*middleware.AppContext).App
	cfg := app.Drift
	if data.TopK != nil {
		cfg.TopK = *data.TopK
	}
	if data.MaxDepth != nil {
		cfg.MaxDepth = *data.MaxDepth
	}
	if data.MaxFollowUps != nil {
		cfg.MaxFollowUps = *data.MaxFollowUps
	}

	trace := query.NewQueryTrace()
	retriever := query.NewDriftRetriever(app.AiClient, app.Graph,
		query.WithDriftConfig(cfg),
		query.WithTracer(trace),
	)

	root, err := retriever.Search(c.Request().Context(), kb.ID, data.Query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.JSON(http.StatusGatewayTimeout, searchResponse{Message: "Search timed out"})
		}
		logger.Error("[Server] Search failed", "knowledge_base_id", kb.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, searchResponse{Message: "Internal server error"})
	}

	facts := query.CollectAnswers(root)
	snapshot := trace.Snapshot()
	return c.JSON(http.StatusOK, searchResponse{
		Message:   "OK",
		Facts:     facts,
		Formatted: query.FormatFacts(facts),
		Tree:      root,
		Trace:     &snapshot,
	})
}

func ChatHandler(c echo.Context) error {
	type chatBody struct {
		Messages []ai.ChatMessage `json:"messages" validate:"required,min=1,dive"`
	}

	type chatResponse struct {
		Message string                    `json:"message"`
		Trace   *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(chatBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, chatResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, chatResponse{Message: "Invalid request body"})
	}
	for _, m := range data.Messages {
		switch m.Role {
		case ai.RoleUser, ai.RoleAssistant:
		default:
			return c.JSON(http.StatusBadRequest, chatResponse{Message: "Invalid message role " + m.Role})
		}
	}

	kb, ok, err := loadKnowledgeBase(c)
	if !ok {
		return err
	}

	app := c.(*middleware.AppContext).App
	trace := query.NewQueryTrace()
	agent := query.NewAgent(query.NewAgentParams{
		Client:   app.AiClient,
		Searcher: query.NewDriftRetriever(app.AiClient, app.Graph, query.WithDriftConfig(app.Drift), query.WithTracer(trace)),
		Chunks:   query.NewChunkSearcher(app.AiClient, app.Graph, trace),
		TopK:     app.Drift.TopK,
	})

	answer, err := agent.Chat(c.Request().Context(), kb.ID, data.Messages, trace)
	if err != nil {
		logger.Error("[Server] Chat failed", "knowledge_base_id", kb.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, chatResponse{Message: "Internal server error"})
	}

	snapshot := trace.Snapshot()
	return c.JSON(http.StatusOK, chatResponse{Message: answer, Trace: &snapshot})
}
