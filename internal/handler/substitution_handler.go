package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-subs-api/internal/dto"
	"github.com/noah-isme/sma-subs-api/internal/middleware"
	"github.com/noah-isme/sma-subs-api/internal/models"
	"github.com/noah-isme/sma-subs-api/internal/service"
	appErrors "github.com/noah-isme/sma-subs-api/pkg/errors"
	"github.com/noah-isme/sma-subs-api/pkg/response"
)

// SubstitutionHandler exposes the substitution assignment endpoints.
type SubstitutionHandler struct {
	substitutions   *service.SubstitutionService
	conflicts       *service.ConflictService
	stats           *service.StatsService
	defaultCriteria string
}

// NewSubstitutionHandler constructs handler. Requests that carry no explicit
// ranking criteria fall back to defaultCriteria.
func NewSubstitutionHandler(substitutions *service.SubstitutionService, conflicts *service.ConflictService, stats *service.StatsService, defaultCriteria string) *SubstitutionHandler {
	return &SubstitutionHandler{
		substitutions:   substitutions,
		conflicts:       conflicts,
		stats:           stats,
		defaultCriteria: defaultCriteria,
	}
}

func (h *SubstitutionHandler) applyDefaults(opts dto.AssignOptions) dto.AssignOptions {
	if opts.Criteria == "" {
		opts.Criteria = h.defaultCriteria
	}
	return opts
}

// RegisterRoutes mounts all substitution endpoints on the group.
func (h *SubstitutionHandler) RegisterRoutes(api *gin.RouterGroup) {
	subs := api.Group("/substitutions")
	subs.POST("", h.Create)
	subs.GET("", h.List)
	subs.GET("/stats", h.Stats)
	subs.POST("/auto-assign", h.AutoAssign)
	subs.POST("/conflicts/resolve", h.ResolveMultiple)
	subs.GET("/:id", h.Get)
	subs.POST("/:id/assign", h.Assign)
	subs.POST("/:id/resolve-conflicts", h.ResolveConflicts)
}

// Create godoc
// @Summary Report a teacher absence period
// @Tags Substitutions
// @Accept json
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /substitutions [post]
func (h *SubstitutionHandler) Create(c *gin.Context) {
	var payload dto.CreateSubstitutionRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req, err := h.substitutions.CreateRequest(c.Request.Context(), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// Get godoc
// @Summary Fetch one substitution request
// @Tags Substitutions
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /substitutions/{id} [get]
func (h *SubstitutionHandler) Get(c *gin.Context) {
	req, err := h.substitutions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// List godoc
// @Summary List substitution requests
// @Tags Substitutions
// @Produce json
// @Param date query string false "Filter by date (YYYY-MM-DD)"
// @Param status query string false "Filter by status"
// @Param teacherId query string false "Filter by original or substitute teacher"
// @Success 200 {object} response.Envelope
// @Router /substitutions [get]
func (h *SubstitutionHandler) List(c *gin.Context) {
	filter := models.SubstitutionFilter{
		Status:    models.SubstitutionStatus(c.Query("status")),
		TeacherID: c.Query("teacherId"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	if raw := c.Query("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
			return
		}
		filter.Date = &date
	}

	requests, total, err := h.substitutions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// Assign godoc
// @Summary Assign the best substitute to one request
// @Tags Substitutions
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /substitutions/{id}/assign [post]
func (h *SubstitutionHandler) Assign(c *gin.Context) {
	var opts dto.AssignOptions
	if err := c.ShouldBindJSON(&opts); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	result, err := h.substitutions.AssignSubstituteForRequest(c.Request.Context(), c.Param("id"), h.applyDefaults(opts))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// AutoAssign godoc
// @Summary Assign substitutes to all pending requests
// @Tags Substitutions
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /substitutions/auto-assign [post]
func (h *SubstitutionHandler) AutoAssign(c *gin.Context) {
	var opts dto.AssignOptions
	if err := c.ShouldBindJSON(&opts); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	result, err := h.substitutions.AutoAssignSubstitutes(c.Request.Context(), h.applyDefaults(opts))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ResolveConflicts godoc
// @Summary Run the conflict cascade for one request
// @Tags Substitutions
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /substitutions/{id}/resolve-conflicts [post]
func (h *SubstitutionHandler) ResolveConflicts(c *gin.Context) {
	result, err := h.conflicts.ResolveConflicts(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ResolveMultiple godoc
// @Summary Resolve overlapping absences for one day
// @Tags Substitutions
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /substitutions/conflicts/resolve [post]
func (h *SubstitutionHandler) ResolveMultiple(c *gin.Context) {
	var payload struct {
		Date string `json:"date"`
		dto.AssignOptions
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
		return
	}
	result, err := h.substitutions.ResolveMultipleAbsenceConflicts(c.Request.Context(), date, h.applyDefaults(payload.AssignOptions))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Stats godoc
// @Summary Assignment statistics over a date range
// @Tags Substitutions
// @Produce json
// @Param from query string true "Range start (YYYY-MM-DD)"
// @Param to query string true "Range end (YYYY-MM-DD)"
// @Param format query string false "Response format: json, csv or pdf"
// @Success 200 {object} response.Envelope
// @Router /substitutions/stats [get]
func (h *SubstitutionHandler) Stats(c *gin.Context) {
	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be YYYY-MM-DD"))
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be YYYY-MM-DD"))
		return
	}

	ctx := c.Request.Context()
	switch c.Query("format") {
	case "csv":
		data, err := h.stats.RenderCSV(ctx, from, to)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="substitution-stats.csv"`)
		c.Data(http.StatusOK, "text/csv", data)
	case "pdf":
		data, err := h.stats.RenderPDF(ctx, from, to)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="substitution-stats.pdf"`)
		c.Data(http.StatusOK, "application/pdf", data)
	default:
		stats, err := h.stats.Get(ctx, from, to)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
	}
}
