// Package faceclient calls the face recognition microservice that identifies
// participants from check-in selfies.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// Recognition is the outcome of a 1:N identification.
type Recognition struct {
	Matched    bool
	SubjectID  string
	Confidence float64
	Distance   float64
	Faces      int
	Quality    *FaceQuality
}

// LivenessResult contains anti-spoofing check result.
type LivenessResult struct {
	IsLive     bool
	Confidence float64
	Checks     map[string]any
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits every call with a successful match for local dev.
	Skip bool
	// Threshold is forwarded to the service as the minimum similarity.
	Threshold float64
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Recognize identifies the best-matching enrolled subject in the image. In
// skip mode the claimed subject is echoed back as a confident match.
func (c *Client) Recognize(ctx context.Context, imageURL, claimed string) (*Recognition, error) {
	if c.Skip {
		return &Recognition{Matched: true, SubjectID: claimed, Confidence: 0.95, Faces: 1}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	payload := map[string]any{"image_url": imageURL, "top_k": 1}
	if c.Threshold > 0 {
		payload["threshold"] = c.Threshold
	}
	var out struct {
		Matches []struct {
			UserID     string  `json:"user_id"`
			Similarity float64 `json:"similarity"`
			Distance   float64 `json:"distance"`
		} `json:"matches"`
		FacesDetected int          `json:"faces_detected"`
		Quality       *FaceQuality `json:"quality"`
	}
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}

	res := &Recognition{Faces: out.FacesDetected, Quality: out.Quality}
	if len(out.Matches) > 0 {
		best := out.Matches[0]
		res.Matched = true
		res.SubjectID = best.UserID
		res.Confidence = best.Similarity
		res.Distance = best.Distance
	}
	return res, nil
}

// Liveness checks if the face image is from a live person (anti-spoofing).
func (c *Client) Liveness(ctx context.Context, imageURL string) (*LivenessResult, error) {
	if c.Skip {
		return &LivenessResult{IsLive: true, Confidence: 0.85, Checks: map[string]any{"mock": true}}, nil
	}
	var out struct {
		IsLive     bool           `json:"is_live"`
		Confidence float64        `json:"confidence"`
		Checks     map[string]any `json:"checks"`
	}
	if err := c.post(ctx, "/liveness", map[string]string{"image_url": imageURL}, &out); err != nil {
		return nil, err
	}
	return &LivenessResult{IsLive: out.IsLive, Confidence: out.Confidence, Checks: out.Checks}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
