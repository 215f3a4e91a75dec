package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sd8capricon/graph-rag/internal/jobs"
	"github.com/sd8capricon/graph-rag/internal/server/middleware"
	"github.com/sd8capricon/graph-rag/pkg/common"
	"github.com/sd8capricon/graph-rag/pkg/logger"
	pgxstore "github.com/sd8capricon/graph-rag/pkg/store/pgx"
)

// MaxJobWait bounds GET /jobs/:id?wait=true.
var MaxJobWait = 60 * time.Second

const jobPollInterval = 500 * time.Millisecond

type jobResponse struct {
	Message string      `json:"message"`
	Job     *common.Job `json:"job,omitempty"`
}

func IngestHandler(c echo.Context) error {
	type ingestBody struct {
		Files []common.JobFile `json:"files" validate:"required,min=1,dive"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request body"})
	}

	kb, ok, err := loadKnowledgeBase(c)
	if !ok {
		return err
	}

	app := c.(*middleware.AppContext).App
	job, err := app.Jobs.Submit(c.Request().Context(), kb, data.Files)
	if err != nil {
		if errors.Is(err, jobs.ErrNoFiles) {
			return c.JSON(http.StatusBadRequest, jobResponse{Message: "No files given"})
		}
		logger.Error("[Server] Failed to submit job", "knowledge_base_id", kb.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, jobResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, jobResponse{Message: "Ingestion queued", Job: job})
}

func GetJobHandler(c echo.Context) error {
	type getJobParams struct {
		ID   string `param:"id" validate:"required"`
		Wait bool   `query:"wait"`
	}

	data := new(getJobParams)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, jobResponse{Message: "Invalid request params"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	var (
		job *common.Job
		err error
	)
	if data.Wait {
		waitCtx, cancel := context.WithTimeout(ctx, MaxJobWait)
		job, err = app.Jobs.Wait(waitCtx, data.ID, jobPollInterval)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && job != nil {
			err = nil
		}
	} else {
		job, err = app.Jobs.Status(ctx, data.ID)
	}
	if err != nil {
		if errors.Is(err, pgxstore.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, jobResponse{Message: "Job not found"})
		}
		logger.Error("[Server] Failed to get job", "job_id", data.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, jobResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, jobResponse{Message: "OK", Job: job})
}
