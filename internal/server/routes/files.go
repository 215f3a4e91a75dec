package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sd8capricon/graph-rag/internal/server/middleware"
	"github.com/sd8capricon/graph-rag/pkg/logger"
)

func UploadFileHandler(c echo.Context) error {
	type uploadResponse struct {
		Message string `json:"message"`
		Name    string `json:"name,omitempty"`
		Key     string `json:"key,omitempty"`
	}

	kb, ok, err := loadKnowledgeBase(c)
	if !ok {
		return err
	}

	app := c.(*middleware.AppContext).App
	if app.Uploads == nil {
		return c.JSON(http.StatusNotImplemented, uploadResponse{Message: "File uploads are not configured"})
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, uploadResponse{Message: "Invalid request body"})
	}
	src, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, uploadResponse{Message: "Invalid request body"})
	}
	defer src.Close()

	key, err := app.Uploads.PutFile(c.Request().Context(), "knowledge-bases/"+kb.ID, fh.Filename, src)
	if err != nil {
		logger.Error("[Server] Failed to upload file", "knowledge_base_id", kb.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, uploadResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusCreated, uploadResponse{Message: "File uploaded", Name: fh.Filename, Key: key})
}
