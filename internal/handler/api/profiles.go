package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"MTFTrader/internal/domain/models"
	xhttp "MTFTrader/pkg/http"
	applogger "MTFTrader/pkg/logger"
)

// ProfileService manages named signal parameter sets.
type ProfileService interface {
	List(ctx context.Context) (models.SignalProfiles, error)
	Save(ctx context.Context, name string, patch models.SignalParamsPatch) (models.SignalParams, error)
	Delete(ctx context.Context, name string) (models.SignalProfiles, error)
	Activate(ctx context.Context, name string) error
	ActiveParams(ctx context.Context) (models.SignalParams, error)
	Export(ctx context.Context) (models.SignalProfiles, error)
	Import(ctx context.Context, doc models.SignalProfilesDocument, merge, overwrite bool) (models.SignalProfiles, error)
}

type ProfilesHandler struct {
	logger   *applogger.Logger
	profiles ProfileService
}

func NewProfilesHandler(logger *applogger.Logger, profiles ProfileService) *ProfilesHandler {
	return &ProfilesHandler{logger: logger, profiles: profiles}
}

func (h *ProfilesHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/profiles")
	g.GET("", h.List)
	g.PUT("", h.Save)
	g.DELETE("/:name", h.Delete)
	g.POST("/activate", h.Activate)
	g.GET("/active", h.Active)
	g.GET("/export", h.Export)
	g.POST("/import", h.Import)
}

func (h *ProfilesHandler) List(c echo.Context) error {
	sp, err := h.profiles.List(c.Request().Context())
	if err != nil {
		return errorResponse(c, h.logger, "list profiles", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, sp)
}

// Save creates the profile or patches the fields present in params.
func (h *ProfilesHandler) Save(c echo.Context) error {
	req := &models.SaveProfileRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	p, err := h.profiles.Save(c.Request().Context(), req.Name, req.Params)
	if err != nil {
		return errorResponse(c, h.logger, "save profile", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, map[string]any{"name": req.Name, "params": p})
}

func (h *ProfilesHandler) Delete(c echo.Context) error {
	sp, err := h.profiles.Delete(c.Request().Context(), c.Param("name"))
	if err != nil {
		return errorResponse(c, h.logger, "delete profile", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, sp)
}

func (h *ProfilesHandler) Activate(c echo.Context) error {
	req := &models.ActivateProfileRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.profiles.Activate(c.Request().Context(), req.Name); err != nil {
		return errorResponse(c, h.logger, "activate profile", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, map[string]string{"active": req.Name})
}

func (h *ProfilesHandler) Active(c echo.Context) error {
	p, err := h.profiles.ActiveParams(c.Request().Context())
	if err != nil {
		return errorResponse(c, h.logger, "active params", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, p)
}

// Export sends the profile set as a downloadable JSON document.
func (h *ProfilesHandler) Export(c echo.Context) error {
	sp, err := h.profiles.Export(c.Request().Context())
	if err != nil {
		return errorResponse(c, h.logger, "export profiles", err, http.StatusNotFound)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="signal_profiles.json"`)
	return c.JSON(http.StatusOK, sp)
}

func (h *ProfilesHandler) Import(c echo.Context) error {
	req := &models.ImportProfilesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	doc, ok := req.Document()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid format: expected {active, profiles}").WithParam("field", "profiles"))
	}
	merge, overwrite := true, true
	if req.Merge != nil {
		merge = *req.Merge
	}
	if req.Overwrite != nil {
		overwrite = *req.Overwrite
	}
	sp, err := h.profiles.Import(c.Request().Context(), doc, merge, overwrite)
	if err != nil {
		return errorResponse(c, h.logger, "import profiles", err, http.StatusNotFound)
	}
	return xhttp.SuccessResponse(c, sp)
}
