package directory

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healermy/portal/internal/platform/auth"
	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/pkg/pagination"
)

// Handler exposes the directory endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a directory handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the directory endpoints on the authenticated API
// group. Patient lookup is practitioner-only.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/practitioners", h.ListPractitioners)
	api.GET("/practitioners/:id", h.GetPractitioner)
	api.GET("/patients/:id", h.GetPatient, auth.RequireRole(session.RolePractitioner))
}

// ListPractitioners handles GET /api/v1/practitioners.
func (h *Handler) ListPractitioners(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	pg := pagination.FromContext(c)
	summaries, total, err := h.svc.ListPractitioners(c.Request().Context(), sess, c.QueryParam("name"), pg)
	if err != nil {
		return httpError(err)
	}

	if summaries == nil {
		summaries = []PractitionerSummary{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(summaries, total, pg.Limit, pg.Offset))
}

// GetPractitioner handles GET /api/v1/practitioners/:id.
func (h *Handler) GetPractitioner(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	pract, err := h.svc.GetPractitioner(c.Request().Context(), sess, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pract)
}

// GetPatient handles GET /api/v1/patients/:id.
func (h *Handler) GetPatient(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	patient, err := h.svc.GetPatient(c.Request().Context(), sess, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, patient)
}

// httpError maps a service error onto the portal's HTTP surface.
func httpError(err error) error {
	if errors.Is(err, ErrPractitionerOnly) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	var ue *fhir.UpstreamError
	if errors.As(err, &ue) {
		switch ue.StatusCode {
		case http.StatusNotFound:
			return echo.NewHTTPError(http.StatusNotFound, "resource not found")
		case http.StatusUnauthorized, http.StatusForbidden:
			return echo.NewHTTPError(http.StatusUnauthorized, "upstream rejected credentials")
		default:
			return echo.NewHTTPError(http.StatusBadGateway, ue.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
