package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-subs-api/internal/models"
	"github.com/noah-isme/sma-subs-api/internal/service"
	"github.com/noah-isme/sma-subs-api/pkg/response"
)

type classLister interface {
	List(ctx context.Context) ([]models.Class, error)
}

type subjectLister interface {
	List(ctx context.Context) ([]models.Subject, error)
}

type teacherFinder interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type periodLister interface {
	ListBySeason(ctx context.Context, season models.PeriodSeason) ([]models.Period, error)
}

// RosterHandler exposes the read-only school roster the assignment engine
// schedules against: classes, subjects, teachers and bell timings.
type RosterHandler struct {
	classes  classLister
	subjects subjectLister
	teachers teacherFinder
	periods  periodLister
}

// NewRosterHandler constructs a roster handler.
func NewRosterHandler(classes classLister, subjects subjectLister, teachers teacherFinder, periods periodLister) *RosterHandler {
	return &RosterHandler{classes: classes, subjects: subjects, teachers: teachers, periods: periods}
}

// RegisterRoutes mounts roster endpoints on the group.
func (h *RosterHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/classes", h.ListClasses)
	api.GET("/subjects", h.ListSubjects)
	api.GET("/teachers/:id", h.GetTeacher)
	api.GET("/periods", h.ListPeriods)
}

// ListClasses godoc
// @Summary List classes
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *RosterHandler) ListClasses(c *gin.Context) {
	classes, err := h.classes.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// ListSubjects godoc
// @Summary List subjects
// @Tags Roster
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /subjects [get]
func (h *RosterHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.subjects.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, nil)
}

// GetTeacher godoc
// @Summary Get teacher detail
// @Tags Roster
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id} [get]
func (h *RosterHandler) GetTeacher(c *gin.Context) {
	teacher, err := h.teachers.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teacher, nil)
}

// ListPeriods godoc
// @Summary List bell periods for a season
// @Tags Roster
// @Produce json
// @Param season query string false "Season (summer, monsoon, winter); defaults to the current one"
// @Success 200 {object} response.Envelope
// @Router /periods [get]
func (h *RosterHandler) ListPeriods(c *gin.Context) {
	season := models.PeriodSeason(c.Query("season"))
	if season == "" {
		season = service.SeasonFor(time.Now())
	}
	periods, err := h.periods.ListBySeason(c.Request.Context(), season)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, periods, nil)
}
