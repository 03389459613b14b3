package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
)

// Client talks to the video meeting service over JSON/HTTP.
//
//	POST   {base}/meetings         -> 201 {"meeting_ref": "..."}
//	DELETE {base}/meetings/{ref}   -> 204, 404 is treated as already revoked
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// per-call deadlines come from the caller's context
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createMeetingRequest struct {
	ReservationID   string    `json:"reservation_id"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

type createMeetingResponse struct {
	MeetingRef string `json:"meeting_ref"`
}

func (c *Client) CreateMeeting(ctx context.Context, req reservation.MeetingRequest) (reservation.MeetingRef, error) {
	payload, err := json.Marshal(createMeetingRequest{
		ReservationID:   req.ReservationID.String(),
		StartAt:         req.Start.UTC(),
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return "", fmt.Errorf("marshal meeting request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/meetings", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// the reservation id lets the service deduplicate our single retry
	httpReq.Header.Set("Idempotency-Key", req.ReservationID.String()+"@"+req.Start.UTC().Format(time.RFC3339))
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("create meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", statusError("create meeting", resp)
	}

	var out createMeetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode meeting response: %w", err)
	}
	if out.MeetingRef == "" {
		return "", errors.New("create meeting: response has no meeting_ref")
	}
	return reservation.MeetingRef(out.MeetingRef), nil
}

func (c *Client) RevokeMeeting(ctx context.Context, ref reservation.MeetingRef) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/meetings/"+url.PathEscape(string(ref)), nil)
	if err != nil {
		return err
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("revoke meeting: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusError("revoke meeting", resp)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, msg)
}
