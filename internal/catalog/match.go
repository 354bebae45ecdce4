package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// State is the slice of session state the predicates read.
type State struct {
	Destination models.Destination
	Resort      string
	TopicHints  []string
}

// Response is the outcome of matching: canned text, or a prompt for the model.
type Response struct {
	// Canned is the scripted reply; empty means fall through to generation.
	Canned string
	// Prompt is the user turn recorded in the transcript and, when generating,
	// sent to the model.
	Prompt string
	// Hint restates the user's intent for the topic continuity heuristic.
	Hint string
}

// IsCanned reports whether the response is scripted.
func (r Response) IsCanned() bool { return r.Canned != "" }

// Category groups callback identifiers that share a transition.
type Category string

const (
	CategoryOverview          Category = "overview"
	CategoryIntakeQuestion    Category = "intake_question"
	CategoryDestination       Category = "destination"
	CategoryOtherDestinations Category = "other_destinations"
	CategorySuggestResorts    Category = "suggest_resorts"
	CategoryAreaActivities    Category = "area_activities"
	CategoryResort            Category = "resort"
	CategoryResortBrowse      Category = "resort_browse"
	CategoryFlights           Category = "flights"
	CategoryActivities        Category = "activities"
	CategoryItinerary         Category = "itinerary"
)

// Callback is a resolved button press.
type Callback struct {
	ActionID string
	Category Category
	// Destination and Resort are the selections the callback makes, if any.
	Destination models.Destination
	Resort      string
	// ClearSelection drops both selections (e.g. "other destinations").
	ClearSelection bool
	// Echo is the label confirmed back to the user; empty for no echo.
	Echo     string
	Response Response
}

// Keyword sets. Matching is case-insensitive substring containment.
var (
	intakeKeywords = []string{"vacation", "trip", "travel", "holiday", "beach", "plan", "looking"}
	dateCues       = []string{"june", "15-22"}
	partyCues      = []string{"adult", "child"}
	budgetCues     = []string{"$", "budget"}
	safetyCues     = []string{"is it safe for families?", "safe for families", "safety"}
)

const maxHintLength = 120

func containsAny(text string, keywords []string) bool {
	text = strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// HasTripDetails reports whether text carries a date cue, a party cue and a
// budget cue together. All three groups must match.
func HasTripDetails(text string) bool {
	return containsAny(text, dateCues) && containsAny(text, partyCues) && containsAny(text, budgetCues)
}

// WasAskingAboutSafety reports whether any retained topic hint was a safety inquiry.
func WasAskingAboutSafety(hints []string) bool {
	return containsAny(strings.Join(hints, " "), safetyCues)
}

// Match decides how a free-text message is answered at the given stage.
func Match(stage models.Stage, _ State, userText string) Response {
	resp := Response{Prompt: userText, Hint: restate(userText)}
	switch stage {
	case models.StageInitial:
		if containsAny(userText, intakeKeywords) {
			resp.Canned = intakeText
		}
	case models.StageDestinationDetails:
		if HasTripDetails(userText) {
			resp.Canned = recommendationText()
		}
	}
	return resp
}

// restate shortens free text into a topic hint.
func restate(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxHintLength {
		return text
	}
	return string([]rune(text)[:maxHintLength])
}

func generated(prompt, hint string) Response {
	if hint == "" {
		hint = prompt
	}
	return Response{Prompt: prompt, Hint: hint}
}

func canned(text, prompt string) Response {
	return Response{Canned: text, Prompt: prompt, Hint: prompt}
}

// fixedCallbacks are the identifiers whose answer never depends on session state.
var fixedCallbacks = map[string]Callback{
	"destinations": {Category: CategoryOverview, Response: generated(
		"Can you tell me more about the Bali destinations you mentioned?", "Tell me more about Bali destinations")},
	"budget": {Category: CategoryIntakeQuestion, Response: generated(
		"I need help planning my budget for this trip.", "I need help planning my budget")},
	"questions": {Category: CategoryIntakeQuestion, Response: generated(
		"I have some specific questions about travel requirements.", "I have questions about travel requirements")},
	"all_resorts": {Category: CategoryResortBrowse, Response: generated(
		"Can you show me all the resort options that fit my budget?", "")},
	"more_info": {Category: CategoryResortBrowse, Response: generated(
		"I need more information before choosing a resort.", "")},
	"family_activities": {Category: CategoryItinerary, Echo: "Family Activities", Response: generated(
		"What family-friendly activities are available nearby?", "")},
	"dining": {Category: CategoryItinerary, Echo: "Dining", Response: generated(
		"What dining options are available at the resort and nearby?", "")},
	"transportation": {Category: CategoryItinerary, Echo: "Transportation", Response: generated(
		"What transportation options are available at the destination?", "")},
	"book": {Category: CategoryItinerary, Echo: "Book", Response: generated(
		"I'm ready to book. What information do you need from me?", "")},
	"ready_to_book": {Category: CategoryItinerary, Echo: "Ready To Book", Response: generated(
		"I'm ready to book. What information do you need from me?", "")},
	"more_questions": {Category: CategoryItinerary, Echo: "More Questions", Response: generated(
		"I have a few more questions about my trip.", "")},
}

// MatchCallback resolves a button identifier against the catalog. It returns
// false when no table knows the identifier.
func MatchCallback(actionID string, st State) (Callback, bool) {
	cb, ok := matchCallback(actionID, st)
	if ok {
		cb.ActionID = actionID
	}
	return cb, ok
}

func matchCallback(id string, st State) (Callback, bool) {
	if cb, ok := fixedCallbacks[id]; ok {
		return cb, true
	}
	if d, ok := models.ParseDestination(id); ok && string(d) == id {
		return destinationCallback(d), true
	}
	if r, ok := resorts[id]; ok {
		return resortCallback(r), true
	}
	switch id {
	case "other_destinations":
		prompt := "What other destinations in Bali would you recommend?"
		if a, ok := areas[st.Destination]; ok {
			prompt = fmt.Sprintf("What other destinations in Bali would you recommend besides %s?", a.Name)
		}
		return Callback{Category: CategoryOtherDestinations, ClearSelection: true, Response: generated(prompt, "")}, true
	case "view_flights":
		return flightsCallback(st), true
	case "activities":
		return activitiesCallback(st), true
	}
	if d, ok := parseAreaAction(id, "suggest_", "_resorts"); ok {
		return suggestCallback(d, st), true
	}
	if d, ok := parseAreaAction(id, "", "_activities"); ok {
		a := areas[d]
		return Callback{
			Category:    CategoryAreaActivities,
			Destination: d,
			Response:    generated(fmt.Sprintf("What family-friendly activities are there in %s?", a.Name), ""),
		}, true
	}
	if r, ok := parseDetailsAction(id); ok {
		return resortCallback(r), true
	}
	return Callback{}, false
}

func destinationCallback(d models.Destination) Callback {
	a := areas[d]
	prompt := fmt.Sprintf("Tell me more about %s. Is it safe for families?", a.Name)
	return Callback{
		Category:    CategoryDestination,
		Destination: d,
		Echo:        TitleCase(string(d)),
		Response:    canned(narrativeText(a), prompt),
	}
}

func suggestCallback(d models.Destination, st State) Callback {
	a := areas[d]
	prompt := fmt.Sprintf("Yes, please suggest some resorts in %s. We'd prefer family-friendly options.", a.Name)
	resp := generated(prompt, "")
	if WasAskingAboutSafety(st.TopicHints) {
		resp = canned(shortlistText(a), prompt)
	}
	return Callback{Category: CategorySuggestResorts, Destination: d, Response: resp}
}

func resortCallback(r Resort) Callback {
	resp := generated(r.DetailPrompt, "")
	if r.Detail != "" {
		resp = canned(r.Detail, r.DetailPrompt)
	}
	return Callback{
		Category:    CategoryResort,
		Destination: r.Destination,
		Resort:      r.ID,
		Echo:        TitleCase(r.ID),
		Response:    resp,
	}
}

const (
	flightsPrompt    = "What are the flight options to this destination?"
	activitiesPrompt = "What activities are available at this resort or nearby?"
)

// flightsCallback answers with the scripted flight table when the session has
// a destination or a resort, pricing against the chosen resort or, failing
// that, the destination's top offer.
func flightsCallback(st State) Callback {
	cb := Callback{Category: CategoryFlights, Echo: "View Flights", Response: generated(flightsPrompt, "")}
	if r, ok := budgetResort(st); ok {
		cb.Response = canned(flightsText(r), flightsPrompt)
	}
	return cb
}

func budgetResort(st State) (Resort, bool) {
	if r, ok := resorts[st.Resort]; ok {
		if r.Price > 0 {
			return r, true
		}
		return resorts[areas[r.Destination].Offers[0]], true
	}
	if a, ok := areas[st.Destination]; ok {
		return resorts[a.Offers[0]], true
	}
	return Resort{}, false
}

func activitiesCallback(st State) Callback {
	cb := Callback{Category: CategoryActivities, Echo: "Activities", Response: generated(activitiesPrompt, "")}
	if st.Resort == "maya_ubud" {
		cb.Response = canned(mayaUbudActivities, activitiesPrompt)
	}
	return cb
}

// parseAreaAction matches identifiers of the form prefix+<destination>+suffix.
func parseAreaAction(id, prefix, suffix string) (models.Destination, bool) {
	if !strings.HasPrefix(id, prefix) || !strings.HasSuffix(id, suffix) || len(id) <= len(prefix)+len(suffix) {
		return models.DestinationNone, false
	}
	name := id[len(prefix) : len(id)-len(suffix)]
	d, ok := models.ParseDestination(name)
	if !ok || string(d) != name {
		return models.DestinationNone, false
	}
	return d, true
}

// parseDetailsAction resolves "details_<n>_<destination>" to the n-th offer.
func parseDetailsAction(id string) (Resort, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "details" {
		return Resort{}, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 || n > 3 {
		return Resort{}, false
	}
	d, ok := models.ParseDestination(parts[2])
	if !ok || string(d) != parts[2] {
		return Resort{}, false
	}
	return resorts[areas[d].Offers[n-1]], true
}
