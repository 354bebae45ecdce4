package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/menu"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// transition is one row of the dialogue state machine.
type transition struct {
	// From is the current stage; only consulted for free-text rows.
	From models.Stage
	// Category is the callback family; only consulted for callback rows.
	Category catalog.Category
	Next     models.Stage
	Menu     menu.Kind
}

// Free text advances one stage; the last stage absorbs.
var textTransitions = []transition{
	{From: models.StageInitial, Next: models.StageDestinationDetails, Menu: menu.KindIntake},
	{From: models.StageDestinationDetails, Next: models.StageResortSelection, Menu: menu.KindAreaPicker},
	{From: models.StageResortSelection, Next: models.StageFlightOptions, Menu: menu.KindResortPicker},
	{From: models.StageFlightOptions, Next: models.StageItinerary, Menu: menu.KindTravelPlanning},
	{From: models.StageItinerary, Next: models.StageItinerary, Menu: menu.KindItinerary},
}

// Callbacks move by category regardless of the current stage.
var callbackTransitions = []transition{
	{Category: catalog.CategoryOverview, Next: models.StageDestinationDetails, Menu: menu.KindAreaPicker},
	{Category: catalog.CategoryIntakeQuestion, Next: models.StageDestinationDetails, Menu: menu.KindIntake},
	{Category: catalog.CategoryDestination, Next: models.StageResortSelection, Menu: menu.KindDestinationFollowUp},
	{Category: catalog.CategoryOtherDestinations, Next: models.StageResortSelection, Menu: menu.KindAreaPicker},
	{Category: catalog.CategorySuggestResorts, Next: models.StageResortSelection, Menu: menu.KindResortShortlist},
	{Category: catalog.CategoryAreaActivities, Next: models.StageResortSelection, Menu: menu.KindDestinationFollowUp},
	{Category: catalog.CategoryResortBrowse, Next: models.StageResortSelection, Menu: menu.KindResortPicker},
	{Category: catalog.CategoryResort, Next: models.StageFlightOptions, Menu: menu.KindTravelPlanning},
	{Category: catalog.CategoryFlights, Next: models.StageItinerary, Menu: menu.KindItinerary},
	{Category: catalog.CategoryActivities, Next: models.StageItinerary, Menu: menu.KindItinerary},
	{Category: catalog.CategoryItinerary, Next: models.StageItinerary, Menu: menu.KindItinerary},
}

func textTransition(stage models.Stage) (transition, bool) {
	for _, t := range textTransitions {
		if t.From == stage {
			return t, true
		}
	}
	return transition{}, false
}

func callbackTransition(c catalog.Category) (transition, bool) {
	for _, t := range callbackTransitions {
		if t.Category == c {
			return t, true
		}
	}
	return transition{}, false
}

// Word families used to place an unrecognised callback. Checked in order.
var resemblance = []struct {
	words []string
	stage models.Stage
}{
	{[]string{"resort", "hotel", "villa", "stay", "accommodation"}, models.StageResortSelection},
	{[]string{"flight", "airline", "fly", "airport"}, models.StageFlightOptions},
	{[]string{"destination", "area", "budget", "price", "cost", "ubud", "seminyak", "kuta", "uluwatu"}, models.StageDestinationDetails},
}

// ResembleStage picks the stage whose category an unrecognised action id
// resembles, defaulting to the itinerary.
func ResembleStage(actionID string) models.Stage {
	id := strings.ToLower(actionID)
	for _, r := range resemblance {
		for _, w := range r.words {
			if strings.Contains(id, w) {
				return r.stage
			}
		}
	}
	return models.StageItinerary
}

// CheckTable verifies that every stage has a free-text row and that every
// action a menu can offer resolves to a callback row.
func CheckTable() error {
	var errs []error
	for _, s := range models.Stages {
		if _, ok := textTransition(s); !ok {
			errs = append(errs, fmt.Errorf("stage %s has no text transition", s))
		}
	}
	seen := make(map[string]bool)
	dests := append([]models.Destination{models.DestinationNone}, models.Destinations...)
	for _, s := range models.Stages {
		for _, k := range menu.Kinds {
			for _, d := range dests {
				for _, o := range menu.For(s, menu.Input{Kind: k, Destination: d}) {
					if seen[o.ActionID] {
						continue
					}
					seen[o.ActionID] = true
					cb, ok := catalog.MatchCallback(o.ActionID, catalog.State{Destination: d})
					if !ok {
						errs = append(errs, fmt.Errorf("action %q is not in the catalog", o.ActionID))
						continue
					}
					if _, ok := callbackTransition(cb.Category); !ok {
						errs = append(errs, fmt.Errorf("action %q (category %s) has no transition", o.ActionID, cb.Category))
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}
