package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/citygrid/h3delay/internal/h3adapter"
	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
)

const flowSegmentBaseURL = "https://api.tomtom.com/traffic/services/4/flowSegmentData/absolute/10/json"

// TomTom is the default flow-segment implementation of Provider (spec
// §4.4 / §6). It resolves a cell to its representative point via
// h3adapter and issues one bounded-timeout GET per call.
type TomTom struct {
	HTTP    *http.Client
	APIKey  string
	Timeout time.Duration
	Log     zerolog.Logger

	// BaseURL defaults to the real TomTom flow-segment endpoint; tests
	// point it at an httptest.Server instead.
	BaseURL string

	adapter *h3adapter.Adapter
}

// NewTomTom builds a TomTom provider. httpClient is expected to come
// from internal/httpclient.NewOutbound.
func NewTomTom(httpClient *http.Client, apiKey string, timeout time.Duration, log zerolog.Logger) *TomTom {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &TomTom{
		HTTP:    httpClient,
		APIKey:  apiKey,
		Timeout: timeout,
		Log:     log,
		BaseURL: flowSegmentBaseURL,
		adapter: h3adapter.New(),
	}
}

type flowSegmentResponse struct {
	FlowSegmentData struct {
		CurrentSpeed  float64  `json:"currentSpeed"`
		FreeFlowSpeed float64  `json:"freeFlowSpeed"`
		Confidence    *float64 `json:"confidence"`
	} `json:"flowSegmentData"`
}

// DelayForCell implements Provider. Transport failures (including this
// call's own Timeout), non-2xx responses, malformed JSON and non-positive
// speeds are absorbed here and returned as (nil, nil): the pipeline
// treats provider trouble as "no coverage", never a fatal error (spec
// §7). An invalid cell id or BaseURL, and the caller's context ending,
// are returned as errors.
func (p *TomTom) DelayForCell(ctx context.Context, cell string) (*model.TrafficSample, error) {
	start := time.Now()

	lat, lon, err := p.adapter.Center(cell)
	if err != nil {
		observability.ObserveProviderCall("tomtom", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("tomtom: center of cell %q: %w", cell, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	u, err := url.Parse(p.BaseURL)
	if err != nil {
		observability.ObserveProviderCall("tomtom", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("tomtom: base url: %w", err)
	}
	q := u.Query()
	q.Set("point", fmt.Sprintf("%.6f,%.6f", lat, lon))
	q.Set("unit", "kmph")
	q.Set("key", p.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		observability.ObserveProviderCall("tomtom", err, time.Since(start).Seconds())
		return nil, fmt.Errorf("tomtom: build request: %w", err)
	}

	observability.IncProviderInFlight(1)
	resp, err := p.HTTP.Do(req)
	observability.IncProviderInFlight(-1)
	dur := time.Since(start).Seconds()

	if err != nil {
		// context cancellation propagates as a request error too; let the
		// caller see ctx.Err() rather than swallowing it as "no coverage".
		if ctx.Err() != nil {
			observability.ObserveProviderCall("tomtom", ctx.Err(), dur)
			return nil, ctx.Err()
		}
		p.Log.Warn().Err(err).Str("cell", cell).Msg("tomtom call failed")
		observability.ObserveProviderCall("tomtom", err, dur)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		observability.ObserveProviderCall("tomtom", nil, dur)
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.Log.Warn().Int("status", resp.StatusCode).Str("cell", cell).Msg("tomtom non-2xx response")
		observability.ObserveProviderCall("tomtom", fmt.Errorf("status %d", resp.StatusCode), dur)
		return nil, nil
	}

	var body flowSegmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		p.Log.Warn().Err(err).Str("cell", cell).Msg("tomtom malformed json")
		observability.ObserveProviderCall("tomtom", err, dur)
		return nil, nil
	}

	cur := body.FlowSegmentData.CurrentSpeed
	free := body.FlowSegmentData.FreeFlowSpeed
	if cur <= 0 || free <= 0 {
		p.Log.Warn().Float64("current_speed", cur).Float64("free_flow_speed", free).Str("cell", cell).Msg("tomtom non-positive speeds")
		observability.ObserveProviderCall("tomtom", fmt.Errorf("non-positive speeds"), dur)
		return nil, nil
	}

	delay := free / cur
	delay = clampf64(delay, 1, 10)

	conf := 1.0
	if body.FlowSegmentData.Confidence != nil {
		conf = clampf64(*body.FlowSegmentData.Confidence, 0, 1)
	}

	observability.ObserveProviderCall("tomtom", nil, dur)
	return &model.TrafficSample{Delay: delay, Confidence: conf}, nil
}

func clampf64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
