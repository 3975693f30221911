package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dcossios/TravelAgent/internal/domain"
	"github.com/dcossios/TravelAgent/internal/store"
)

func sampleState() store.State {
	loc := "Alfama"
	return store.State{
		CurrentTrip: &domain.Trip{ID: "t1", Destination: "Lisbon", StartDate: "2024-06-01", EndDate: "2024-06-02", Status: domain.TripReady},
		Itineraries: []domain.Itinerary{
			{ID: "d1", TripID: "t1", DayNumber: 1, GeneratedContent: domain.GeneratedContent{
				Status:     domain.ContentCompleted,
				Summary:    "Old town walk",
				Activities: []domain.PlannedActivity{{Time: "09:00", Name: "Tram 28"}},
			}},
			{ID: "d2", TripID: "t1", DayNumber: 2, GeneratedContent: domain.GeneratedContent{Status: domain.ContentPending}},
		},
		Activities: []domain.Activity{
			{ID: "a2", ItineraryID: "d1", Name: "Lunch", Time: "13:00", Order: 1},
			{ID: "a1", ItineraryID: "d1", Name: "Castle", Time: "10:00", Location: &loc, Order: 0},
		},
	}
}

func TestRenderTripMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := renderTrip(&buf, sampleState(), formatMarkdown); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# Lisbon", "## Day 1", "## Day 2", "Old town walk", "Tram 28", "still being generated"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "Castle") > strings.Index(out, "Lunch") {
		t.Fatalf("activities not in order:\n%s", out)
	}
}

func TestRenderTripRejectsUnknownFormat(t *testing.T) {
	if err := renderTrip(&bytes.Buffer{}, sampleState(), "pdf"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if err := renderTrip(&bytes.Buffer{}, store.State{}, formatText); err == nil {
		t.Fatalf("expected error without a trip")
	}
}

func TestResequencePutsListedFirst(t *testing.T) {
	current := []domain.Activity{{ID: "a", Order: 0}, {ID: "b", Order: 1}, {ID: "c", Order: 2}}
	updates, err := resequence(current, []string{"c", "a"})
	if err != nil {
		t.Fatalf("resequence: %v", err)
	}
	want := []domain.OrderUpdate{{ID: "c", Order: 0}, {ID: "a", Order: 1}, {ID: "b", Order: 2}}
	if len(updates) != len(want) {
		t.Fatalf("got %+v", updates)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Fatalf("update %d: got %+v want %+v", i, updates[i], want[i])
		}
	}
	if _, err := resequence(current, []string{"zzz"}); err == nil {
		t.Fatalf("expected error for unknown id")
	}
}
