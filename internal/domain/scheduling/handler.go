package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/scheduler/internal/platform/auth"
	"github.com/telehealth/scheduler/pkg/pagination"
)

type HandlerConfig struct {
	DefaultSlotMinutes int
	// Invalidator drops cached schedule snapshots after a change validation.
	// Nil when no cache is configured.
	Invalidator CacheInvalidator
	// Snapshot, when set, wraps single-provider routes so all their reads
	// share one database snapshot.
	Snapshot echo.MiddlewareFunc
}

type Handler struct {
	engine *Engine
	cfg    HandlerConfig
	logger zerolog.Logger
}

func NewHandler(engine *Engine, cfg HandlerConfig, logger zerolog.Logger) *Handler {
	if cfg.DefaultSlotMinutes <= 0 {
		cfg.DefaultSlotMinutes = 30
	}
	return &Handler{engine: engine, cfg: cfg, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	var single []echo.MiddlewareFunc
	if h.cfg.Snapshot != nil {
		single = append(single, h.cfg.Snapshot)
	}

	read := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleScheduler, auth.RolePatient))
	read.GET("/providers", h.ListProviders)
	read.GET("/availability", h.GetAllAvailability)
	read.GET("/providers/:id/availability", h.GetAvailability, single...)
	read.GET("/providers/:id/alternatives", h.GetAlternatives, single...)
	read.POST("/providers/:id/booking-checks", h.CheckBooking, single...)

	write := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleScheduler))
	write.POST("/schedules/:id/change-validations", h.ValidateChanges, single...)
}

// toHTTPError maps engine errors onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrScheduleNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrIndeterminate):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "availability could not be determined, retry later")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func queryDate(c echo.Context, name string) (Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return Date{}, echo.NewHTTPError(http.StatusBadRequest, name+" query parameter is required")
	}
	d, err := ParseDate(raw)
	if err != nil {
		return Date{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return d, nil
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}

type rangeQuery struct {
	start, end Date
	duration   int
}

func (h *Handler) parseRange(c echo.Context) (rangeQuery, error) {
	start, err := queryDate(c, "start")
	if err != nil {
		return rangeQuery{}, err
	}
	end, err := queryDate(c, "end")
	if err != nil {
		return rangeQuery{}, err
	}
	duration, err := queryInt(c, "duration", h.cfg.DefaultSlotMinutes)
	if err != nil {
		return rangeQuery{}, err
	}
	return rangeQuery{start: start, end: end, duration: duration}, nil
}

func (h *Handler) ListProviders(c echo.Context) error {
	providers, err := h.engine.ListProviders(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(providers, pagination.FromContext(c)))
}

func (h *Handler) GetAvailability(c echo.Context) error {
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	q, err := h.parseRange(c)
	if err != nil {
		return err
	}
	slots, err := h.engine.ComputeAvailability(c.Request().Context(), providerID, q.start, q.end, q.duration)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": slots, "total": len(slots)})
}

func (h *Handler) GetAllAvailability(c echo.Context) error {
	q, err := h.parseRange(c)
	if err != nil {
		return err
	}
	slots, err := h.engine.ComputeAllAvailability(c.Request().Context(), q.start, q.end, q.duration)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": slots, "total": len(slots)})
}

func (h *Handler) GetAlternatives(c echo.Context) error {
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	date, err := queryDate(c, "date")
	if err != nil {
		return err
	}
	duration, err := queryInt(c, "duration", h.cfg.DefaultSlotMinutes)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "max", 0)
	if err != nil {
		return err
	}
	alts, err := h.engine.FindAlternatives(c.Request().Context(), providerID, date, duration, limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": alts, "total": len(alts)})
}

type bookingCheckRequest struct {
	Start                time.Time  `json:"start"`
	DurationMinutes      int        `json:"duration_minutes"`
	PatientID            *uuid.UUID `json:"patient_id,omitempty"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id,omitempty"`
}

func (h *Handler) CheckBooking(c echo.Context) error {
	providerID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var body bookingCheckRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	check, err := h.engine.CheckBooking(c.Request().Context(), BookingRequest{
		ProviderID:           providerID,
		Start:                body.Start,
		DurationMinutes:      body.DurationMinutes,
		PatientID:            body.PatientID,
		ExcludeAppointmentID: body.ExcludeAppointmentID,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, check)
}

func (h *Handler) ValidateChanges(c echo.Context) error {
	scheduleID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}
	var change ScheduleChange
	if err := c.Bind(&change); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	result, err := h.engine.ValidateChanges(ctx, scheduleID, change)
	if err != nil {
		return toHTTPError(err)
	}
	if h.cfg.Invalidator != nil {
		if err := h.cfg.Invalidator.Invalidate(ctx, result.ProviderID); err != nil {
			h.logger.Warn().Err(err).Str("provider_id", result.ProviderID.String()).Msg("schedule cache invalidation failed")
		}
	}
	return c.JSON(http.StatusOK, result)
}
