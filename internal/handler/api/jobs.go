package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/usecase"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// JobService is the job runner surface used by the API.
type JobService interface {
	Submit(ctx context.Context, req usecase.SubmitRequest) (*models.TrainingJob, error)
	Get(ctx context.Context, id string) (*models.TrainingJob, error)
	Active(ctx context.Context, symbol string) (*models.TrainingJob, error)
	Logs(ctx context.Context, id string, limit int) ([]models.JobLog, error)
	ActiveLogs(ctx context.Context, symbol string, limit int) (*models.TrainingJob, []models.JobLog, error)
}

type JobsHandler struct {
	logger *applogger.Logger
	jobs   JobService
}

func NewJobsHandler(logger *applogger.Logger, jobs JobService) *JobsHandler {
	return &JobsHandler{logger: logger, jobs: jobs}
}

func (h *JobsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/jobs")
	g.POST("", h.Submit)
	g.GET("/active", h.Active)
	g.GET("/active/logs", h.ActiveLogs)
	g.GET("/:id", h.Get)
	g.GET("/:id/logs", h.Logs)
}

// Submit answers 202 with the queued job, or 409 with the job already
// queued or running for the symbol.
func (h *JobsHandler) Submit(c echo.Context) error {
	req := &models.SubmitJobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tfs, err := models.ParseTimeframes(req.Timeframes)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err).WithParam("field", "timeframes"))
	}
	job, err := h.jobs.Submit(c.Request().Context(), usecase.SubmitRequest{
		Symbol:     req.Symbol,
		Timeframes: tfs,
		Mode:       models.JobMode(req.Mode),
		Optimize:   req.Optimize,
	})
	if err != nil {
		appErr := toAppError(err, http.StatusNotFound)
		if job != nil {
			appErr = appErr.WithParam("job_id", job.ID)
		}
		return xhttp.AppErrorResponse(c, appErr)
	}
	return xhttp.AcceptedResponse(c, job)
}

func (h *JobsHandler) Get(c echo.Context) error {
	job, err := h.jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, h.logger, "get job", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *JobsHandler) Active(c echo.Context) error {
	req := &models.ActiveJobRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, err := h.jobs.Active(c.Request().Context(), req.Symbol)
	if err != nil {
		return errorResponse(c, h.logger, "active job", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, job)
}

func (h *JobsHandler) Logs(c echo.Context) error {
	req := &models.JobLogsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	logs, err := h.jobs.Logs(c.Request().Context(), req.ID, req.Limit)
	if err != nil {
		return errorResponse(c, h.logger, "job logs", err, http.StatusNotFound)
	}
	return xhttp.ListResponse(c, logs, int64(len(logs)))
}

// ActiveLogs answers an empty list when the symbol has no queued or running job.
func (h *JobsHandler) ActiveLogs(c echo.Context) error {
	req := &models.ActiveJobLogsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	job, logs, err := h.jobs.ActiveLogs(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		return errorResponse(c, h.logger, "active job logs", err, http.StatusNotFound)
	}
	jobID := ""
	if job != nil {
		jobID = job.ID
	}
	return xhttp.SuccessResponse(c, map[string]any{"job_id": jobID, "logs": logs})
}
