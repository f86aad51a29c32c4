package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classcheckin/internal/attendance"
)

func (h *Handler) SessionStats(c *gin.Context) {
	stats, err := h.svc.SessionStats(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ParticipantStats(c *gin.Context) {
	sf, ok := sessionFilter(c)
	if !ok {
		return
	}
	stats, err := h.svc.ParticipantStats(c.Request.Context(), actor(c), attendance.RecordFilter{
		ParticipantID: c.Param("id"),
		CourseID:      sf.CourseID,
		ClassID:       sf.ClassID,
		From:          sf.From,
		To:            sf.To,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) Overview(c *gin.Context) {
	f, ok := sessionFilter(c)
	if !ok {
		return
	}
	overview, err := h.svc.Overview(c.Request.Context(), actor(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
