package scheduling

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/auth"
	"github.com/rmanoop25/Facility360-sub001/internal/platform/report"
	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
	"github.com/rmanoop25/Facility360-sub001/pkg/pagination"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every authenticated role
	readGroup := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleTenant))
	readGroup.GET("/providers/:provider_id/slots", h.ListSlots)
	readGroup.GET("/slots/:id", h.GetSlot)
	readGroup.GET("/slots/:id/capacity", h.GetCapacity)
	readGroup.GET("/assignments", h.ListAssignments)
	readGroup.GET("/assignments/:id", h.GetAssignment)
	readGroup.GET("/assignments/:id/duration", h.GetDuration)
	readGroup.GET("/assignments/:id/extensions", h.ListExtensions)

	// Work endpoints – providers report progress and ask for more time
	workGroup := api.Group("", auth.RequireRole(auth.RoleProvider))
	workGroup.POST("/assignments/:id/transitions", h.Transition)
	workGroup.POST("/assignments/:id/extensions", h.RequestExtension)

	// Planning endpoints – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/providers/:provider_id/slots", h.CreateSlot)
	adminGroup.PUT("/slots/:id", h.UpdateSlot)
	adminGroup.DELETE("/slots/:id", h.DeactivateSlot)
	adminGroup.POST("/providers/:provider_id/allocations", h.Allocate)
	adminGroup.POST("/providers/:provider_id/overlap-check", h.CheckOverlap)
	adminGroup.POST("/assignments", h.CreateAssignment)
	adminGroup.PUT("/assignments/:id/schedule", h.RescheduleAssignment)
	adminGroup.POST("/extensions/:id/approve", h.ApproveExtension)
	adminGroup.POST("/extensions/:id/reject", h.RejectExtension)
	adminGroup.GET("/reports/overtime", h.OvertimeReport)
}

// httpError maps scheduling errors onto status codes. Conflict and shortfall
// responses carry the details a client needs to choose another time.
func httpError(c echo.Context, err error) error {
	var conflict *engine.TimeConflictError
	var short *InsufficientCapacityError
	switch {
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"error":    "time_conflict",
			"message":  err.Error(),
			"conflict": conflict,
		})
	case errors.As(err, &short):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "insufficient_capacity",
			"message": err.Error(),
			"plan":    short.Plan,
		})
	case errors.Is(err, engine.ErrConcurrencyConflict):
		c.Response().Header().Set("Retry-After", "1")
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrExtensionPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseDateParam(c echo.Context, name string, required bool) (engine.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		if required {
			return engine.Date{}, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
		}
		return engine.Date{}, nil
	}
	d, err := engine.ParseDate(v)
	if err != nil {
		return engine.Date{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %s", name, v))
	}
	return d, nil
}

// -- Slot Handlers --

func (h *Handler) CreateSlot(c echo.Context) error {
	providerID, err := parseID(c, "provider_id")
	if err != nil {
		return err
	}
	var in SlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sl, err := h.svc.CreateSlot(c.Request().Context(), providerID, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, sl)
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	sl, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) ListSlots(c echo.Context) error {
	providerID, err := parseID(c, "provider_id")
	if err != nil {
		return err
	}
	activeOnly := true
	if v := c.QueryParam("active"); v != "" {
		activeOnly, err = strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSlots(c.Request().Context(), providerID, activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in SlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sl, err := h.svc.UpdateSlot(c.Request().Context(), id, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, sl)
}

func (h *Handler) DeactivateSlot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.svc.DeactivateSlot(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetCapacity(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	date, err := parseDateParam(c, "date", true)
	if err != nil {
		return err
	}
	res, err := h.svc.GetCapacity(c.Request().Context(), id, date)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Planning Handlers --

func (h *Handler) Allocate(c echo.Context) error {
	providerID, err := parseID(c, "provider_id")
	if err != nil {
		return err
	}
	var req AllocationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	plan, err := h.svc.Allocate(c.Request().Context(), providerID, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *Handler) CheckOverlap(c echo.Context) error {
	providerID, err := parseID(c, "provider_id")
	if err != nil {
		return err
	}
	var req OverlapCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.CheckOverlap(c.Request().Context(), providerID, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Assignment Handlers --

func (h *Handler) CreateAssignment(c echo.Context) error {
	var req CreateAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.CreateAssignment(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func assignmentFilter(c echo.Context) (AssignmentFilter, error) {
	var f AssignmentFilter
	if v := c.QueryParam("provider_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
		f.ProviderID = &pid
	}
	if v := c.QueryParam("status"); v != "" {
		st, err := engine.ParseStatus(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Status = st
	}
	var err error
	if f.From, err = parseDateParam(c, "from", false); err != nil {
		return f, err
	}
	if f.To, err = parseDateParam(c, "to", false); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) ListAssignments(c echo.Context) error {
	f, err := assignmentFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAssignments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RescheduleAssignment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v, err := h.svc.RescheduleAssignment(c.Request().Context(), id, req)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Transition applies a lifecycle event. Approving finished work into
// completed is reserved for admins.
func (h *Handler) Transition(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if engine.Event(req.Event) == engine.EventApprove && !auth.HasRole(c.Request().Context(), auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusForbidden, "required role: admin")
	}
	v, err := h.svc.Transition(c.Request().Context(), id, req.Event)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetDuration(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.Duration(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Extension Handlers --

func (h *Handler) RequestExtension(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in ExtensionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	x, err := h.svc.RequestExtension(c.Request().Context(), id, in)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, x)
}

func (h *Handler) ListExtensions(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListExtensions(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*engine.ExtensionRequest{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ApproveExtension(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	x, v, err := h.svc.ApproveExtension(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"extension": x, "assignment": v})
}

func (h *Handler) RejectExtension(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	x, err := h.svc.RejectExtension(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, x)
}

// -- Report Handlers --

func (h *Handler) OvertimeReport(c echo.Context) error {
	f, err := assignmentFilter(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.OvertimeReport(c.Request().Context(), f)
	if err != nil {
		return httpError(c, err)
	}
	var buf bytes.Buffer
	if err := report.WriteOvertime(&buf, rows); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="overtime.xlsx"`)
	return c.Blob(http.StatusOK, xlsxMIME, buf.Bytes())
}
