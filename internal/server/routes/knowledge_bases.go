package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sd8capricon/graph-rag/internal/server/middleware"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/graph"
	"github.com/sd8capricon/graph-rag/pkg/logger"
)

type knowledgeBaseResponse struct {
	Message       string                `json:"message"`
	KnowledgeBase *common.KnowledgeBase `json:"knowledge_base,omitempty"`
}

func PutKnowledgeBaseHandler(c echo.Context) error {
	type putKnowledgeBaseBody struct {
		ID               string           `param:"id" validate:"required,max=128"`
		Name             string           `json:"name" validate:"required"`
		Description      string           `json:"description"`
		ExtractionPrompt string           `json:"knowledge_extraction_prompt"`
		Ontology         *common.Ontology `json:"ontology"`
	}

	data := new(putKnowledgeBaseBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, knowledgeBaseResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, knowledgeBaseResponse{Message: "Invalid request body"})
	}

	kb := &common.KnowledgeBase{
		ID:               data.ID,
		Name:             data.Name,
		Description:      data.Description,
		ExtractionPrompt: data.ExtractionPrompt,
	}
	if data.Ontology != nil {
		o, err := graph.SanitizeOntology(data.Ontology)
		if err != nil {
			return c.JSON(http.StatusBadRequest, knowledgeBaseResponse{Message: "Invalid ontology"})
		}
		kb.Ontology = o
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	created, err := app.KnowledgeBases.UpsertKnowledgeBase(ctx, kb)
	if err != nil {
		logger.Error("[Server] Failed to upsert knowledge base", "knowledge_base_id", kb.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, knowledgeBaseResponse{Message: "Internal server error"})
	}

	stored, err := app.KnowledgeBases.GetByID(ctx, kb.ID)
	if err != nil || stored == nil {
		stored = kb
	}

	if created {
		return c.JSON(http.StatusCreated, knowledgeBaseResponse{Message: "Knowledge base created", KnowledgeBase: stored})
	}
	return c.JSON(http.StatusOK, knowledgeBaseResponse{Message: "Knowledge base updated", KnowledgeBase: stored})
}

func GetKnowledgeBaseHandler(c echo.Context) error {
	kb, ok, err := loadKnowledgeBase(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, knowledgeBaseResponse{Message: "OK", KnowledgeBase: kb})
}

// loadKnowledgeBase resolves the :id path parameter. When ok is false the
// response has already been written and err is what the handler returns.
func loadKnowledgeBase(c echo.Context) (*common.KnowledgeBase, bool, error) {
	id := c.Param("id")
	if id == "" {
		return nil, false, c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	kb, err := app.KnowledgeBases.GetByID(c.Request().Context(), id)
	if err != nil {
		logger.Error("[Server] Failed to load knowledge base", "knowledge_base_id", id, "err", err)
		return nil, false, c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if kb == nil {
		return nil, false, c.JSON(http.StatusNotFound, map[string]string{"message": "Knowledge base not found"})
	}
	return kb, true, nil
}
