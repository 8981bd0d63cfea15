package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/domain"
)

// ControlHandler serves the REST control surface.
type ControlHandler struct {
	service *app.LiveService
	log     *slog.Logger
}

func NewControlHandler(service *app.LiveService, log *slog.Logger) *ControlHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ControlHandler{service: service, log: log}
}

// Register mounts the control routes under /api.
func (h *ControlHandler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/sessions", h.createSession)
	api.POST("/quizzes/:quizId/sessions", h.createSessionFromQuiz)
	api.POST("/sessions/join", h.joinSession)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/sessions/:id/leaderboard", h.getLeaderboard)
	api.PUT("/sessions/:id/participants/:participantId/score", h.recordFinalScore)
}

func (h *ControlHandler) createSession(c *gin.Context) {
	var req app.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err))
		return
	}
	res, err := h.service.CreateSession(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *ControlHandler) createSessionFromQuiz(c *gin.Context) {
	var req struct {
		HostID string `json:"hostId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err))
		return
	}
	res, err := h.service.CreateSessionFromQuiz(c.Request.Context(), c.Param("quizId"), req.HostID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *ControlHandler) joinSession(c *gin.Context) {
	var req struct {
		JoinCode    string `json:"joinCode"`
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest(err))
		return
	}
	res, err := h.service.JoinSession(c.Request.Context(), req.JoinCode, req.DisplayName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ControlHandler) getSession(c *gin.Context) {
	snap, err := h.service.GetSessionSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *ControlHandler) getLeaderboard(c *gin.Context) {
	lb, err := h.service.GetLeaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (h *ControlHandler) recordFinalScore(c *gin.Context) {
	var req struct {
		Score *int `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Score == nil {
		h.fail(c, domain.ErrInvalidArgument.With(domain.WithMessagef("score is required")))
		return
	}
	err := h.service.RecordFinalScore(c.Request.Context(), c.Param("id"), c.Param("participantId"), *req.Score)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ControlHandler) fail(c *gin.Context, err error) {
	e := domain.Convert(err)
	status := e.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, e)
}

func badRequest(err error) error {
	return domain.ErrInvalidArgument.With(domain.WithMessagef("malformed request body"), domain.WithCause(err))
}
