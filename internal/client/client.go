// Package client posts lifecycle events and interventions from the device to
// crib-server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/emitter"
	"github.com/sweeney/crib-sensor/internal/logic"
	"github.com/sweeney/crib-sensor/internal/wire"
)

// ErrUnknownSubject is returned when the server does not know the subject.
var ErrUnknownSubject = errors.New("unknown subject")

// Options configures the HTTP client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// Client talks to crib-server. Retries live here and nowhere else on the device.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client.
func New(o Options, logger *zap.Logger) *Client {
	if o.RetryWait == 0 {
		o.RetryWait = time.Second
	}
	if o.RetryMaxWait == 0 {
		o.RetryMaxWait = 5 * time.Second
	}
	h := resty.New().
		SetBaseURL(o.BaseURL).
		SetTimeout(o.Timeout).
		SetRetryCount(o.Retries).
		SetRetryWaitTime(o.RetryWait).
		SetRetryMaxWaitTime(o.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:   h,
		logger: logger.With(zap.String("component", "client")),
	}
}

// Outcome is the server's verdict on a lifecycle event. An ignored event is
// a normal outcome, not an error.
type Outcome struct {
	StatusCode        int
	Ignored           bool
	Reason            string
	CooldownRemaining int
	Body              []byte
}

var eventPaths = map[logic.EventType]string{
	logic.EventSleepStart: "/sensor/sleep-start",
	logic.EventSleepEnd:   "/sensor/sleep-end",
	logic.EventBabyAway:   "/sensor/baby-away",
}

// PostEvent sends one lifecycle event.
func (c *Client) PostEvent(ctx context.Context, requestID, subjectID string, e logic.Event) (Outcome, error) {
	path, ok := eventPaths[e.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("no endpoint for event type %q", e.Type)
	}

	body := wire.SubjectRequest{SubjectID: subjectID}
	if !e.Timestamp.IsZero() {
		at := e.Timestamp.UTC()
		body.ObservedAt = &at
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetBody(body).
		Post(path)
	if err != nil {
		return Outcome{}, fmt.Errorf("post %s: %w", path, err)
	}
	if err := checkStatus(resp); err != nil {
		return Outcome{StatusCode: resp.StatusCode()}, fmt.Errorf("post %s: %w", path, err)
	}

	out := Outcome{StatusCode: resp.StatusCode(), Body: resp.Body()}
	var ig wire.Ignored
	if err := json.Unmarshal(resp.Body(), &ig); err == nil && ig.Ignored {
		out.Ignored = true
		out.Reason = ig.Reason
		out.CooldownRemaining = ig.CooldownRemainingMinutes
	}
	return out, nil
}

// Intervene records a caregiver override.
func (c *Client) Intervene(ctx context.Context, requestID, subjectID string, action logic.Action) (wire.InterventionResponse, error) {
	var result wire.InterventionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetBody(wire.InterventionRequest{SubjectID: subjectID, Action: string(action)}).
		SetResult(&result).
		Post("/sensor/intervention")
	if err != nil {
		return result, fmt.Errorf("post intervention: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return result, fmt.Errorf("post intervention: %w", err)
	}
	return result, nil
}

func checkStatus(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrUnknownSubject
	}
	var e wire.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Error != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), e.Error)
	}
	return fmt.Errorf("status %d", resp.StatusCode())
}

// Name implements emitter.Sink.
func (c *Client) Name() string { return "http" }

// Deliver implements emitter.Sink.
func (c *Client) Deliver(ctx context.Context, m emitter.Message) error {
	if m.IsIntervention() {
		res, err := c.Intervene(ctx, m.ID, m.SubjectID, m.Action)
		if err != nil {
			return err
		}
		c.logger.Info("intervention recorded",
			zap.String("subject_id", m.SubjectID),
			zap.String("status", res.Status),
			zap.Time("cooldown_until", res.CooldownUntil))
		return nil
	}

	out, err := c.PostEvent(ctx, m.ID, m.SubjectID, m.Event)
	if err != nil {
		return err
	}
	if out.Ignored {
		c.logger.Info("event ignored by server",
			zap.String("subject_id", m.SubjectID),
			zap.String("type", string(m.Event.Type)),
			zap.String("reason", out.Reason),
			zap.Int("cooldown_remaining_minutes", out.CooldownRemaining))
	}
	return nil
}
