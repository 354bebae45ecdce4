// Package menu builds the option menu attached to every outbound message.
//
// The menu is a pure function of the stage, the menu variant chosen by the
// last transition and the selected destination. Cancel is never part of a
// menu; it is always reachable through the /cancel command.
package menu

import (
	"fmt"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// Kind names a menu variant within a stage.
type Kind string

const (
	// KindDefault uses the stage's default menu.
	KindDefault             Kind = ""
	KindIntake              Kind = "intake"
	KindAreaPicker          Kind = "area_picker"
	KindDestinationFollowUp Kind = "destination_follow_up"
	KindResortShortlist     Kind = "resort_shortlist"
	KindResortPicker        Kind = "resort_picker"
	KindTravelPlanning      Kind = "travel_planning"
	KindItinerary           Kind = "itinerary"
	KindStart               Kind = "start"
)

// Kinds lists every concrete menu variant.
var Kinds = []Kind{
	KindIntake, KindAreaPicker, KindDestinationFollowUp, KindResortShortlist,
	KindResortPicker, KindTravelPlanning, KindItinerary, KindStart,
}

// Defaults maps each stage to the variant used when a transition names none.
var Defaults = map[models.Stage]Kind{
	models.StageInitial:            KindStart,
	models.StageDestinationDetails: KindIntake,
	models.StageResortSelection:    KindAreaPicker,
	models.StageFlightOptions:      KindTravelPlanning,
	models.StageItinerary:          KindItinerary,
}

// Input is what the builder reads from a session.
type Input struct {
	Kind        Kind
	Destination models.Destination
}

type builder func(d models.Destination) (models.OptionMenu, bool)

var builders = map[Kind]builder{
	KindStart:               fixed(startOptions),
	KindIntake:              fixed(intakeOptions),
	KindAreaPicker:          areaPicker,
	KindDestinationFollowUp: destinationFollowUp,
	KindResortShortlist:     resortShortlist,
	KindResortPicker:        resortPicker,
	KindTravelPlanning:      fixed(travelPlanningOptions),
	KindItinerary:           fixed(itineraryOptions),
}

var (
	startOptions = models.OptionMenu{
		{Label: "Tell me about Bali destinations", ActionID: "destinations"},
		{Label: "I have specific questions", ActionID: "questions"},
	}
	intakeOptions = models.OptionMenu{
		{Label: "Tell me about Bali destinations", ActionID: "destinations"},
		{Label: "Help with budget planning", ActionID: "budget"},
		{Label: "I have specific questions", ActionID: "questions"},
	}
	travelPlanningOptions = models.OptionMenu{
		{Label: "View flight options", ActionID: "view_flights"},
		{Label: "Explore activities", ActionID: "activities"},
	}
	itineraryOptions = models.OptionMenu{
		{Label: "Family activities", ActionID: "family_activities"},
		{Label: "Dining options", ActionID: "dining"},
		{Label: "Transportation", ActionID: "transportation"},
		{Label: "Ready to book", ActionID: "book"},
	}
	otherDestinations = models.Option{Label: "Other destinations", ActionID: "other_destinations"}
)

func fixed(m models.OptionMenu) builder {
	return func(models.Destination) (models.OptionMenu, bool) {
		return clone(m), true
	}
}

func clone(m models.OptionMenu) models.OptionMenu {
	return append(models.OptionMenu(nil), m...)
}

func areaPicker(models.Destination) (models.OptionMenu, bool) {
	m := make(models.OptionMenu, 0, len(models.Destinations)+1)
	for _, d := range models.Destinations {
		a, _ := catalog.AreaFor(d)
		m = append(m, models.Option{Label: a.PickerLabel, ActionID: string(d)})
	}
	return append(m, models.Option{Label: "Other options", ActionID: "other_destinations"}), true
}

func destinationFollowUp(d models.Destination) (models.OptionMenu, bool) {
	if d == models.DestinationNone {
		return nil, false
	}
	return models.OptionMenu{
		{Label: "Yes, suggest resorts", ActionID: fmt.Sprintf("suggest_%s_resorts", d)},
		{Label: "Tell me about activities", ActionID: fmt.Sprintf("%s_activities", d)},
		otherDestinations,
	}, true
}

func resortShortlist(d models.Destination) (models.OptionMenu, bool) {
	if d == models.DestinationNone {
		return nil, false
	}
	m := models.OptionMenu{}
	for i := range catalog.Offers(d) {
		m = append(m, models.Option{
			Label:    fmt.Sprintf("More details on option %d", i+1),
			ActionID: fmt.Sprintf("details_%d_%s", i+1, d),
		})
	}
	return append(m, models.Option{Label: "Explore other destinations", ActionID: "other_destinations"}), true
}

func resortPicker(d models.Destination) (models.OptionMenu, bool) {
	if d == models.DestinationNone {
		return models.OptionMenu{
			{Label: "Show me all options", ActionID: "all_resorts"},
			{Label: "I need more information", ActionID: "more_info"},
		}, true
	}
	m := models.OptionMenu{}
	for _, r := range catalog.Offers(d) {
		m = append(m, models.Option{Label: r.Name, ActionID: r.ID})
	}
	return append(m, otherDestinations), true
}

// For returns the menu for the next stage. A variant whose prerequisites are
// missing falls back to the stage default, so the result is never empty.
func For(stage models.Stage, in Input) models.OptionMenu {
	kind := in.Kind
	if kind == KindDefault {
		kind = Defaults[stage]
	}
	if b, ok := builders[kind]; ok {
		if m, ok := b(in.Destination); ok && len(m) > 0 {
			return m
		}
	}
	if b, ok := builders[Defaults[stage]]; ok {
		if m, ok := b(in.Destination); ok && len(m) > 0 {
			return m
		}
	}
	return clone(startOptions)
}
