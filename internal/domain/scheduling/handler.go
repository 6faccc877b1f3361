package scheduling

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healermy/portal/internal/platform/auth"
	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/pkg/pagination"
)

// Handler exposes the scheduling endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a scheduling handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scheduling endpoints on the authenticated API
// group. Booking is patient-only; listing, reading, cancelling and slot
// search are open to both roles.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.List)
	api.GET("/appointments/:id", h.Get)
	api.POST("/appointments", h.Book, auth.RequireRole(session.RolePatient))
	api.POST("/appointments/:id/cancel", h.Cancel)
	api.GET("/slots", h.Slots)
}

// List handles GET /api/v1/appointments.
func (h *Handler) List(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	pg := pagination.FromContext(c)
	appts, total, err := h.svc.List(c.Request().Context(), sess, pg)
	if err != nil {
		return httpError(err)
	}

	if appts == nil {
		appts = []Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, pg.Limit, pg.Offset))
}

// Get handles GET /api/v1/appointments/:id.
func (h *Handler) Get(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	appt, err := h.svc.Get(c.Request().Context(), sess, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// Book handles POST /api/v1/appointments.
func (h *Handler) Book(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	appt, err := h.svc.Book(c.Request().Context(), sess, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

// cancelRequest is the JSON body for the cancel endpoint.
type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /api/v1/appointments/:id/cancel.
func (h *Handler) Cancel(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	var req cancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	appt, err := h.svc.Cancel(c.Request().Context(), sess, c.Param("id"), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// Slots handles GET /api/v1/slots.
func (h *Handler) Slots(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	startStr := c.QueryParam("start")
	endStr := c.QueryParam("end")
	if startStr == "" || endStr == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start and end query parameters are required")
	}

	start, end, err := parseDateRange(startStr, endStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "dates must use the yyyy-mm-dd format")
	}

	slots, err := h.svc.Slots(c.Request().Context(), sess, SlotQuery{
		ScheduleID: c.QueryParam("schedule"),
		Start:      start,
		End:        end,
	})
	if err != nil {
		return httpError(err)
	}

	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}

// httpError maps a service error onto the portal's HTTP surface.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrMissingSlot), errors.Is(err, ErrMissingPractitioner):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSlotNotFree):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrPatientOnly):
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
