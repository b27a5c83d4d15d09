// Package renderer turns a day's per-cell metrics into a styled polygon
// GeoJSON FeatureCollection for map visualization.
package renderer

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/citygrid/h3delay/internal/h3adapter"
	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
)

type geometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

type style struct {
	FillColor   string  `json:"fillColor"`
	StrokeColor string  `json:"strokeColor"`
	FillOpacity float64 `json:"fillOpacity"`
}

type properties struct {
	Cell          string  `json:"cell"`
	DelayOrange   float64 `json:"delay_orange"`
	DelayProvider float64 `json:"delay_provider"`
	DelayFinal    float64 `json:"delay_final"`
	VolNorm       float64 `json:"vol_norm"`
	TruckShare    float64 `json:"truck_share"`
	UsedProvider  bool    `json:"used_provider"`
	ConfCell      float64 `json:"conf_cell"`
	Style         style   `json:"style"`
}

type feature struct {
	Type       string     `json:"type"`
	Geometry   geometry   `json:"geometry"`
	Properties properties `json:"properties"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Crs      crs       `json:"crs"`
	TsUTC    string    `json:"ts_utc"`
	Features []feature `json:"features"`
}

type crs struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

func round2(v float32) float64 {
	return math.Round(float64(v)*100) / 100
}

func colorForNorm(norm float32) (fill, stroke string) {
	idx := int(norm * float32(len(rampFill)-1))
	if idx < 0 {
		idx = 0
	}
	if idx > len(rampFill)-1 {
		idx = len(rampFill) - 1
	}
	return rampFill[idx], rampStroke[idx]
}

// rampFill/rampStroke are an 11-step green-to-red ramp indexed by
// norm = clip((delay_final-1)/(delay_max-1), 0, 1) (spec §4.7).
var rampFill = [11]string{
	"#1a9850", "#66bd63", "#a6d96a", "#d9ef8b", "#fee08b", "#fdae61",
	"#f46d43", "#d73027", "#a50026", "#7a0019", "#4d000f",
}
var rampStroke = [11]string{
	"#0c5a2e", "#3d7a3a", "#6b8c42", "#8c9957", "#998b52", "#996a3a",
	"#99432a", "#8c1f18", "#660019", "#4d0010", "#330009",
}

// ToGeoJSON implements spec §4.7: name, crs, and ts_utc are top-level
// members; each feature carries one polygon per cell, all three delays
// rounded to two decimals, vol_norm, truck_share, used_provider, cell
// confidence, and a style block colored from the 11-step ramp. Feature
// order follows Go's map iteration and is explicitly not guaranteed.
func ToGeoJSON(metrics map[string]*model.H3Metrics, cfg model.DelayCfg, now time.Time) ([]byte, error) {
	start := time.Now()
	a := h3adapter.New()

	fc := featureCollection{
		Type: "FeatureCollection",
		Name: "h3delay",
		Crs: crs{
			Type:       "name",
			Properties: map[string]any{"name": "urn:ogc:def:crs:OGC:1.3:CRS84"},
		},
		TsUTC:    now.UTC().Format(time.RFC3339),
		Features: make([]feature, 0, len(metrics)),
	}

	denom := cfg.DelayMax - 1
	if denom <= 0 {
		denom = 1e-6
	}

	for cell, m := range metrics {
		boundary, err := a.Boundary(cell)
		if err != nil {
			return nil, fmt.Errorf("renderer: boundary for cell %q: %w", cell, err)
		}

		norm := (m.DelayFinal - 1) / float32(denom)
		if norm < 0 {
			norm = 0
		}
		if norm > 1 {
			norm = 1
		}
		fill, stroke := colorForNorm(norm)

		fc.Features = append(fc.Features, feature{
			Type:     "Feature",
			Geometry: geometry{Type: "Polygon", Coordinates: [][][2]float64{boundary}},
			Properties: properties{
				Cell:          cell,
				DelayOrange:   round2(m.DelayOrange),
				DelayProvider: round2(m.DelayProvider),
				DelayFinal:    round2(m.DelayFinal),
				VolNorm:       round2(m.VolNorm),
				TruckShare:    round2(m.TruckShare),
				UsedProvider:  m.DelayProvider > 0,
				ConfCell:      round2(m.ConfCell()),
				Style: style{
					FillColor:   fill,
					StrokeColor: stroke,
					FillOpacity: 0.6,
				},
			},
		})
	}

	out, err := json.Marshal(fc)
	observability.ObserveRender(time.Since(start).Seconds(), len(fc.Features))
	for _, m := range metrics {
		observability.ObserveCellDelaySample(m.Cell, float64(m.DelayFinal))
	}
	if err != nil {
		return nil, fmt.Errorf("renderer: marshal feature collection: %w", err)
	}
	return out, nil
}
