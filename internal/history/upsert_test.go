package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEntityUpsert_HappyPath_PostsExpectedBody(t *testing.T) {
	var gotBody upsertBody
	var gotPath, gotContentType, gotTenant, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotTenant = r.Header.Get("NGSILD-Tenant")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := EntityUpsert{BaseURL: srv.URL, Prefix: "urn:h3delay", Tenant: "city", Token: "tok"}
	if err := sink.Persist(context.Background(), sampleRows()); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if gotPath != "/entityOperations/upsert" {
		t.Fatalf("path = %q, want /entityOperations/upsert", gotPath)
	}
	if gotContentType != "application/ld+json" {
		t.Fatalf("content-type = %q, want application/ld+json", gotContentType)
	}
	if gotTenant != "city" {
		t.Fatalf("tenant header = %q, want city", gotTenant)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization header = %q, want Bearer tok", gotAuth)
	}
	if gotBody.ActionType != "append_strict" {
		t.Fatalf("actionType = %q, want append_strict", gotBody.ActionType)
	}
	if len(gotBody.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(gotBody.Entities))
	}
	wantID := "urn:h3delay:H3Delay:2025-10-27:87283472bffffff"
	if gotBody.Entities[0].ID != wantID {
		t.Fatalf("entity id = %q, want %q", gotBody.Entities[0].ID, wantID)
	}
	if gotBody.Entities[0].Type != "H3Delay" {
		t.Fatalf("entity type = %q, want H3Delay", gotBody.Entities[0].Type)
	}
}

func TestEntityUpsert_Non2xx_FailsWholeBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := EntityUpsert{BaseURL: srv.URL}
	if err := sink.Persist(context.Background(), sampleRows()); err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}

func TestEntityUpsert_EmptyBatch_NoOp(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := EntityUpsert{BaseURL: srv.URL}
	if err := sink.Persist(context.Background(), nil); err != nil {
		t.Fatalf("Persist with empty batch: %v", err)
	}
	if called {
		t.Fatalf("server should not be called for an empty batch")
	}
}

func TestEntityUpsert_NoBaseURL_ReturnsError(t *testing.T) {
	sink := EntityUpsert{}
	if err := sink.Persist(context.Background(), sampleRows()); err == nil {
		t.Fatalf("expected error for unconfigured base url")
	}
}
