package observation

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/renalwatch/renalwatch/internal/platform/auth"
	"github.com/renalwatch/renalwatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	writeGroup := api.Group("", auth.RequireRole("physician", "lab"))
	writeGroup.POST("/observations", h.IngestObservation)

	readGroup := api.Group("", auth.RequireRole("physician", "lab", "nurse"))
	readGroup.GET("/patients/:id/observations", h.ListObservations)
}

type ingestRequest struct {
	EntityID   uuid.UUID  `json:"entity_id"`
	Type       string     `json:"type"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	ObservedAt *time.Time `json:"observed_at"`
}

func (h *Handler) IngestObservation(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	o := &Observation{
		EntityID: req.EntityID,
		Type:     req.Type,
		Value:    req.Value,
		Unit:     req.Unit,
	}
	if req.ObservedAt != nil {
		o.ObservedAt = *req.ObservedAt
	}

	if err := h.svc.Ingest(c.Request().Context(), o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) ListObservations(c echo.Context) error {
	entityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	p := pagination.FromContext(c)
	items, total, err := h.svc.ListByEntity(c.Request().Context(), entityID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}
