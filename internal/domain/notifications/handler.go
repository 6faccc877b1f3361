package notifications

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healermy/portal/internal/platform/auth"
	"github.com/healermy/portal/internal/platform/fhir"
	"github.com/healermy/portal/internal/platform/session"
	"github.com/healermy/portal/pkg/pagination"
)

// Handler exposes the notification endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a notification handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the notification endpoints on the authenticated API
// group. Dismissing a notification is practitioner-only; everything else is
// open to both roles.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.GET("/notifications/:id", h.Get)
	api.POST("/notifications/:id/read", h.MarkRead)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.DELETE("/notifications/:id", h.Hide, auth.RequireRole(session.RolePractitioner))
}

// listResponse wraps the standard page envelope with the feed-wide unread
// count for the client's badge.
type listResponse struct {
	*pagination.Response
	Unread int `json:"unread"`
}

// List handles GET /api/v1/notifications.
func (h *Handler) List(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	pg := pagination.FromContext(c)
	result, err := h.svc.List(c.Request().Context(), sess, pg)
	if err != nil {
		return upstreamHTTPError(err)
	}

	items := result.Items
	if items == nil {
		items = []Notification{}
	}
	return c.JSON(http.StatusOK, listResponse{
		Response: pagination.NewResponse(items, result.Total, pg.Limit, pg.Offset),
		Unread:   result.Unread,
	})
}

// Get handles GET /api/v1/notifications/:id.
func (h *Handler) Get(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	n, err := h.svc.Get(c.Request().Context(), sess, c.Param("id"))
	if err != nil {
		return upstreamHTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// MarkRead handles POST /api/v1/notifications/:id/read. The upstream stamp
// is best-effort, so the endpoint acknowledges the local mark rather than
// confirming the upstream write.
func (h *Handler) MarkRead(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	if err := h.svc.MarkRead(c.Request().Context(), sess, c.Param("id")); err != nil {
		return upstreamHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

type markAllRequest struct {
	IDs []string `json:"ids"`
}

// MarkAllRead handles POST /api/v1/notifications/read-all. Without a body it
// marks everything currently unread.
func (h *Handler) MarkAllRead(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	var req markAllRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	result, err := h.svc.MarkAllRead(c.Request().Context(), sess, req.IDs)
	if err != nil {
		return upstreamHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// Hide handles DELETE /api/v1/notifications/:id.
func (h *Handler) Hide(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	if err := h.svc.Hide(c.Request().Context(), sess, c.Param("id")); err != nil {
		if errors.Is(err, ErrPractitionerOnly) {
			return echo.NewHTTPError(http.StatusForbidden, err.Error())
		}
		return upstreamHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// upstreamHTTPError maps a service error onto the portal's HTTP surface.
// Upstream rejections keep their meaning where the client can act on them;
// everything else from upstream becomes a bad gateway.
func upstreamHTTPError(err error) error {
	var ue *fhir.UpstreamError
	if errors.As(err, &ue) {
		switch ue.StatusCode {
		case http.StatusNotFound:
			return echo.NewHTTPError(http.StatusNotFound, "notification not found")
		case http.StatusUnauthorized, http.StatusForbidden:
			return echo.NewHTTPError(http.StatusUnauthorized, "upstream rejected credentials")
		default:
			return echo.NewHTTPError(http.StatusBadGateway, ue.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
