package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 5*time.Second, 0, nil)
}

func TestSearchTires(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tires" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("width") != "205" || q.Get("profile") != "55" || q.Get("diameter") != "16" {
			t.Errorf("query = %v", q)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q", auth)
		}
		json.NewEncoder(w).Encode([]Tire{
			{SKU: "MX-205-55-16", Brand: "Michelin", Model: "Primacy 4", Size: "205/55 R16", Season: "summer", PriceUAH: 3450, InStock: 8},
		})
	})

	tires, err := c.SearchTires(context.Background(), TireQuery{Width: 205, Profile: 55, Diameter: 16})
	if err != nil {
		t.Fatalf("SearchTires error: %v", err)
	}
	if len(tires) != 1 || tires[0].SKU != "MX-205-55-16" {
		t.Errorf("tires = %+v", tires)
	}
}

func TestCreateOrderDraft(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/orders" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["sku"] != "MX-205-55-16" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(OrderDraft{OrderID: "ord_1", SKU: "MX-205-55-16", Quantity: 4, TotalUAH: 13800})
	})

	draft, err := c.CreateOrderDraft(context.Background(), "MX-205-55-16", 4, "+380501234567")
	if err != nil {
		t.Fatalf("CreateOrderDraft error: %v", err)
	}
	if draft.OrderID != "ord_1" || draft.TotalUAH != 13800 {
		t.Errorf("draft = %+v", draft)
	}
}

func TestConfirmOrder_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "order has no delivery details", http.StatusConflict)
	})

	_, err := c.ConfirmOrder(context.Background(), "ord_1")
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
}

func TestFittingSlots(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") != "2026-03-14" {
			t.Errorf("date = %q", r.URL.Query().Get("date"))
		}
		json.NewEncoder(w).Encode([]FittingSlot{{SlotID: "slot_9", At: at, Location: "Київ, Печерськ"}})
	})

	slots, err := c.FittingSlots(context.Background(), "2026-03-14", "")
	if err != nil {
		t.Fatalf("FittingSlots error: %v", err)
	}
	if len(slots) != 1 || !slots[0].At.Equal(at) {
		t.Errorf("slots = %+v", slots)
	}
}
