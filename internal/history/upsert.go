package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
)

// EntityUpsert persists rows as NGSI-LD-style entities via a POST to
// <BaseURL>/entityOperations/upsert (spec §4.6 / §6).
type EntityUpsert struct {
	HTTP    *http.Client
	BaseURL string
	Prefix  string // id namespace, e.g. "urn:h3delay"
	Tenant  string // optional
	Token   string // optional bearer token
}

func (u EntityUpsert) name() string { return "entity_upsert" }

type property struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type entity struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Date        property `json:"date"`
	H3          property `json:"h3"`
	Res         property `json:"res"`
	TripsTotal  property `json:"trips_total"`
	TripsTrucks property `json:"trips_trucks"`
	TripsCars   property `json:"trips_cars"`
	TruckShare  property `json:"truck_share"`
	VolNorm     property `json:"vol_norm"`
	ConfCell    property `json:"conf_cell"`
	DelayOrange property `json:"delay_orange"`
	DelayProv   property `json:"delay_provider"`
	DelayFinal  property `json:"delay_final"`
}

type upsertBody struct {
	ActionType string   `json:"actionType"`
	Entities   []entity `json:"entities"`
}

func prop(v any) property { return property{Type: "Property", Value: v} }

func toEntity(prefix string, row model.H3DailyRow) entity {
	dateStr := row.Date.Format("2006-01-02")
	return entity{
		ID:          fmt.Sprintf("%s:H3Delay:%s:%s", prefix, dateStr, row.H3),
		Type:        "H3Delay",
		Date:        prop(dateStr),
		H3:          prop(row.H3),
		Res:         prop(row.Res),
		TripsTotal:  prop(row.TripsTotal),
		TripsTrucks: prop(row.TripsTrucks),
		TripsCars:   prop(row.TripsCars),
		TruckShare:  prop(row.TruckShare),
		VolNorm:     prop(row.VolNorm),
		ConfCell:    prop(row.ConfCell),
		DelayOrange: prop(row.DelayOrange),
		DelayProv:   prop(row.DelayProvider),
		DelayFinal:  prop(row.DelayFinal),
	}
}

func (u EntityUpsert) Persist(ctx context.Context, rows []model.H3DailyRow) (err error) {
	start := time.Now()
	defer func() {
		observability.ObserveSinkWrite(u.name(), err, time.Since(start).Seconds())
	}()

	if len(rows) == 0 {
		return nil
	}
	if u.BaseURL == "" {
		return fmt.Errorf("history: entity-upsert sink has no base url configured")
	}

	entities := make([]entity, 0, len(rows))
	prefix := u.Prefix
	if prefix == "" {
		prefix = "urn:h3delay"
	}
	for _, row := range rows {
		entities = append(entities, toEntity(prefix, row))
	}

	body, err := json.Marshal(upsertBody{ActionType: "append_strict", Entities: entities})
	if err != nil {
		return fmt.Errorf("history: marshal upsert body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.BaseURL+"/entityOperations/upsert", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("history: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ld+json")
	if u.Tenant != "" {
		req.Header.Set("NGSILD-Tenant", u.Tenant)
	}
	if u.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.Token)
	}

	client := u.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("history: upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("history: upsert failed with status %d", resp.StatusCode)
	}
	return nil
}
