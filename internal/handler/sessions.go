package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classcheckin/internal/attendance"
	"classcheckin/internal/qrcode"
)

// OpenSession creates a session. The engine validates the payload.
func (h *Handler) OpenSession(c *gin.Context) {
	var in attendance.NewSession
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	sess, err := h.svc.OpenSession(c.Request.Context(), actor(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) ListSessions(c *gin.Context) {
	f, ok := sessionFilter(c)
	if !ok {
		return
	}
	f.LecturerID = c.Query("lecturer_id")
	f.Status = attendance.SessionStatus(c.Query("status"))
	f.Limit = queryInt(c, "limit", 50)
	f.Offset = queryInt(c, "offset", 0)

	sessions, err := h.svc.ListSessions(c.Request.Context(), actor(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func sessionFilter(c *gin.Context) (attendance.SessionFilter, bool) {
	from, err := queryTime(c, "from")
	if err != nil {
		badRequest(c, err.Error())
		return attendance.SessionFilter{}, false
	}
	to, err := queryTime(c, "to")
	if err != nil {
		badRequest(c, err.Error())
		return attendance.SessionFilter{}, false
	}
	return attendance.SessionFilter{
		CourseID: c.Query("course_id"),
		ClassID:  c.Query("class_id"),
		From:     from,
		To:       to,
	}, true
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.svc.SessionFor(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) ListRecords(c *gin.Context) {
	records, err := h.svc.Records(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) CloseSession(c *gin.Context) {
	sess, err := h.svc.CloseSession(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "stats": attendance.SummarizeSession(sess)})
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) CancelSession(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "reason required")
		return
	}
	sess, err := h.svc.CancelSession(c.Request.Context(), actor(c), c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type tokenRequest struct {
	TTLMinutes int `json:"ttl_minutes" binding:"omitempty,min=1,max=240"`
}

// IssueToken rotates the session token and returns it with a QR image of
// its payload.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	issued, err := h.svc.IssueToken(c.Request.Context(), actor(c), c.Param("id"), time.Duration(req.TTLMinutes)*time.Minute)
	if err != nil {
		fail(c, err)
		return
	}
	image, err := qrcode.DataURL(issued.Payload, h.qrSize)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"code":       issued.Token.Code,
		"issued_at":  issued.Token.IssuedAt,
		"expires_at": issued.Token.ExpiresAt,
		"payload":    issued.Payload,
		"image":      image,
	})
}

func (h *Handler) DeactivateToken(c *gin.Context) {
	if err := h.svc.DeactivateToken(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Override(c *gin.Context) {
	var req attendance.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.SessionID = c.Param("id")
	req.ParticipantID = c.Param("participant")
	rec, err := h.svc.Override(c.Request.Context(), actor(c), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Verify(c *gin.Context) {
	rec, err := h.svc.Verify(c.Request.Context(), actor(c), c.Param("id"), c.Param("participant"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
