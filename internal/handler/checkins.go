package handler

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classcheckin/internal/attendance"
	"classcheckin/internal/cloudinary"
)

const maxPhotoBytes = 8 << 20

type checkInRequest struct {
	SessionID     string                  `json:"session_id"`
	ParticipantID string                  `json:"participant_id" binding:"required"`
	Channel       attendance.Channel      `json:"channel" binding:"required"`
	Token         string                  `json:"token"`
	Payload       string                  `json:"payload"`
	Location      *attendance.LocationFix `json:"location"`
	ImageURL      string                  `json:"image_url"`
	Notes         string                  `json:"notes" binding:"max=500"`
}

// CheckIn admits a participant through the manual, token, location or
// face-match channel. Scanned QR payloads carry their own session id.
func (h *Handler) CheckIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	in := attendance.CheckInRequest{
		SessionID:     req.SessionID,
		ParticipantID: req.ParticipantID,
		Channel:       req.Channel,
		Actor:         actor(c),
		Token:         req.Token,
		Location:      req.Location,
		Notes:         req.Notes,
	}

	switch req.Channel {
	case attendance.ChannelToken:
		if req.Payload != "" {
			sessionID, code, err := attendance.ParseTokenPayload(req.Payload)
			if err != nil {
				fail(c, err)
				return
			}
			if in.SessionID != "" && in.SessionID != sessionID {
				badRequest(c, "payload belongs to another session")
				return
			}
			in.SessionID, in.Token = sessionID, code
		}
	case attendance.ChannelFaceMatch:
		if req.ImageURL == "" {
			badRequest(c, "image_url required for face-match")
			return
		}
		match, ok := h.recognize(c, req.ImageURL, req.ParticipantID)
		if !ok {
			return
		}
		in.Face = match
	}
	if in.SessionID == "" {
		badRequest(c, "session_id required")
		return
	}
	h.admit(c, in)
}

// FaceCheckIn accepts a multipart photo, hosts it and admits the participant
// through the face-match channel.
func (h *Handler) FaceCheckIn(c *gin.Context) {
	sessionID := c.PostForm("session_id")
	participantID := c.PostForm("participant_id")
	if sessionID == "" || participantID == "" {
		badRequest(c, "session_id and participant_id required")
		return
	}
	if h.uploads == nil || !h.uploads.Configured() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"kind": "unavailable", "message": "image uploads not configured"}})
		return
	}
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		badRequest(c, "photo file is required")
		return
	}
	defer file.Close()
	data, ok := readPhoto(c, file)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	uploaded, err := h.uploads.UploadBytes(ctx, data, header.Filename)
	if err != nil {
		log.Printf("photo upload failed session=%s participant=%s: %v", sessionID, participantID, err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": gin.H{"kind": "upstream", "message": "image upload failed"}})
		return
	}
	match, ok := h.recognize(c, uploaded.SecureURL, participantID)
	if !ok {
		return
	}
	h.admit(c, attendance.CheckInRequest{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Channel:       attendance.ChannelFaceMatch,
		Actor:         actor(c),
		Face:          match,
		Notes:         c.PostForm("notes"),
	})
}

// recognize asks the face collaborator who is in the image. Collaborator
// failures abort the request with 502.
func (h *Handler) recognize(c *gin.Context, imageURL, claimed string) (*attendance.FaceMatch, bool) {
	if h.faces == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"kind": "unavailable", "message": "face service not configured"}})
		return nil, false
	}
	ctx := c.Request.Context()
	rec, err := h.faces.Recognize(ctx, imageURL, claimed)
	if err != nil {
		log.Printf("face recognize failed participant=%s: %v", claimed, err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": gin.H{"kind": "upstream", "message": "face recognition failed"}})
		return nil, false
	}
	match := &attendance.FaceMatch{
		Matched:    rec.Matched,
		SubjectID:  rec.SubjectID,
		Confidence: rec.Confidence,
		Distance:   rec.Distance,
		ImageURL:   imageURL,
	}
	if h.liveness && rec.Matched {
		live, err := h.faces.Liveness(ctx, imageURL)
		if err != nil {
			// A failed liveness call leaves the flag unset rather than blocking admission.
			log.Printf("liveness check failed participant=%s: %v", claimed, err)
		} else {
			match.Live = &live.IsLive
		}
	}
	return match, true
}

// readPhoto reads an uploaded image, rejecting files over maxPhotoBytes
// instead of truncating them.
func readPhoto(c *gin.Context, r io.Reader) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r, maxPhotoBytes+1))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	if len(data) > maxPhotoBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": gin.H{
			"kind":    attendance.KindValidation,
			"message": "photo too large",
			"detail":  gin.H{"max_bytes": maxPhotoBytes},
		}})
		return nil, false
	}
	return data, true
}

func (h *Handler) admit(c *gin.Context, in attendance.CheckInRequest) {
	res, err := h.svc.CheckIn(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Upload hosts an image sent either as multipart "file" or as a JSON data URL.
func (h *Handler) Upload(c *gin.Context) {
	if h.uploads == nil || !h.uploads.Configured() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"kind": "unavailable", "message": "image uploads not configured"}})
		return
	}
	ctx := c.Request.Context()

	var (
		result *cloudinary.UploadResult
		err    error
	)
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			badRequest(c, "file field required")
			return
		}
		defer file.Close()
		data, ok := readPhoto(c, file)
		if !ok {
			return
		}
		result, err = h.uploads.UploadBytes(ctx, data, header.Filename)
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			badRequest(c, `provide {"data": "<base64 data URL>"}`)
			return
		}
		result, err = h.uploads.UploadBase64(ctx, body.Data)
	}
	if err != nil {
		log.Printf("image upload failed: %v", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": gin.H{"kind": "upstream", "message": "image upload failed"}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":       result.SecureURL,
		"public_id": result.PublicID,
		"width":     result.Width,
		"height":    result.Height,
		"bytes":     result.Bytes,
	})
}
