// Package analytics fires measurement events at the analytics collector.
// Strictly fire-and-forget: a tracker with no API secret is a no-op, and
// delivery errors are dropped on the floor.
package analytics

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"ranked-coordinator/internal/config"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const collectorHost = "https://www.google-analytics.com"

type Tracker struct {
	measurementID string
	apiSecret     string
	client        *fasthttp.Client
	logger        zerolog.Logger
}

func NewTracker(cfg *config.Config, logger zerolog.Logger) *Tracker {
	return &Tracker{
		measurementID: cfg.AnalyticsMeasurementID,
		apiSecret:     cfg.AnalyticsAPISecret,
		client: &fasthttp.Client{
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type payload struct {
	ClientID string  `json:"client_id"`
	UserID   string  `json:"user_id,omitempty"`
	Events   []event `json:"events"`
}

type event struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// Track sends one event in the background.
func (t *Tracker) Track(name string, params map[string]any, userID string) {
	if t.apiSecret == "" || t.measurementID == "" {
		return
	}
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(payload{
		ClientID: "ranked-coordinator",
		UserID:   userID,
		Events:   []event{{Name: name, Params: params}},
	})
	if err != nil {
		return
	}

	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(fmt.Sprintf("%s/mp/collect?measurement_id=%s&api_secret=%s",
			collectorHost, url.QueryEscape(t.measurementID), url.QueryEscape(t.apiSecret)))
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.SetBody(body)

		if err := t.client.Do(req, resp); err != nil {
			t.logger.Debug().Err(err).Str("event", name).Msg("analytics event dropped")
		}
	}()
}
