package flow

import (
	"testing"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/models"
)

func TestCheckTable(t *testing.T) {
	if err := CheckTable(); err != nil {
		t.Fatalf("transition table incomplete:\n%v", err)
	}
}

func TestTextTransitions(t *testing.T) {
	want := map[models.Stage]models.Stage{
		models.StageInitial:            models.StageDestinationDetails,
		models.StageDestinationDetails: models.StageResortSelection,
		models.StageResortSelection:    models.StageFlightOptions,
		models.StageFlightOptions:      models.StageItinerary,
		models.StageItinerary:          models.StageItinerary,
	}
	for from, to := range want {
		tr, ok := textTransition(from)
		if !ok {
			t.Fatalf("no text row for %v", from)
		}
		if tr.Next != to {
			t.Errorf("%v -> %v, want %v", from, tr.Next, to)
		}
		if tr.Next != from.Next() {
			t.Errorf("text rows should advance exactly one stage from %v", from)
		}
	}
}

func TestCallbackTransitionsCoverEveryCategory(t *testing.T) {
	categories := []catalog.Category{
		catalog.CategoryOverview, catalog.CategoryIntakeQuestion, catalog.CategoryDestination,
		catalog.CategoryOtherDestinations, catalog.CategorySuggestResorts, catalog.CategoryAreaActivities,
		catalog.CategoryResort, catalog.CategoryResortBrowse, catalog.CategoryFlights,
		catalog.CategoryActivities, catalog.CategoryItinerary,
	}
	for _, c := range categories {
		tr, ok := callbackTransition(c)
		if !ok {
			t.Errorf("category %s has no row", c)
			continue
		}
		if !tr.Next.Valid() {
			t.Errorf("category %s moves to invalid stage %v", c, tr.Next)
		}
	}
}

func TestResembleStage(t *testing.T) {
	tests := []struct {
		id   string
		want models.Stage
	}{
		{"beach_hotel", models.StageResortSelection},
		{"private_villa", models.StageResortSelection},
		{"cheap_flights", models.StageFlightOptions},
		{"airline_miles", models.StageFlightOptions},
		{"budget_breakdown", models.StageDestinationDetails},
		{"kuta_nightlife", models.StageDestinationDetails},
		{"spa_packages", models.StageItinerary},
		{"", models.StageItinerary},
	}
	for _, tt := range tests {
		if got := ResembleStage(tt.id); got != tt.want {
			t.Errorf("ResembleStage(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
