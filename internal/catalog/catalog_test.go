package catalog

import (
	"strings"
	"testing"

	"github.com/BTreeMap/TripPipe/internal/markup"
	"github.com/BTreeMap/TripPipe/internal/models"
)

func TestMatch_InitialIntake(t *testing.T) {
	resp := Match(models.StageInitial, State{}, "I'm planning a trip with my family")
	if !resp.IsCanned() {
		t.Fatal("expected canned intake response")
	}
	if resp.Canned != intakeText {
		t.Errorf("unexpected intake text: %q", resp.Canned)
	}
	if resp.Prompt != "I'm planning a trip with my family" {
		t.Errorf("prompt should be the user text, got %q", resp.Prompt)
	}

	if Match(models.StageInitial, State{}, "What's the capital of France?").IsCanned() {
		t.Error("expected fall through without intake keywords")
	}
}

func TestMatch_DestinationDetailsNeedsAllCueGroups(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		canned bool
	}{
		{"all three groups", "June 15–22, 2 adults and 1 child, $3000 budget", true},
		{"hyphenated dates", "15-22 for two adults, budget around 3k", true},
		{"date and party only", "June 15–22, 2 adults and 1 child", false},
		{"date and budget only", "June, $3000", false},
		{"party and budget only", "2 adults, 1 child, budget $3000", false},
		{"nothing", "somewhere warm", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Match(models.StageDestinationDetails, State{}, tt.text)
			if resp.IsCanned() != tt.canned {
				t.Fatalf("IsCanned = %v, want %v", resp.IsCanned(), tt.canned)
			}
			if tt.canned && !strings.Contains(resp.Canned, "<b>1. Ubud</b>") {
				t.Errorf("recommendation should list Ubud first: %q", resp.Canned)
			}
		})
	}
}

func TestMatch_LaterStagesAlwaysGenerate(t *testing.T) {
	for _, stage := range []models.Stage{models.StageResortSelection, models.StageFlightOptions, models.StageItinerary} {
		if Match(stage, State{}, "planning a trip in June, 2 adults, $3000 budget").IsCanned() {
			t.Errorf("stage %v should not have canned text replies", stage)
		}
	}
}

func TestMatchCallback_DestinationAlwaysCanned(t *testing.T) {
	for _, d := range models.Destinations {
		cb, ok := MatchCallback(string(d), State{TopicHints: []string{"anything"}})
		if !ok {
			t.Fatalf("%s should be routable", d)
		}
		if cb.Category != CategoryDestination || cb.Destination != d {
			t.Errorf("unexpected callback for %s: %+v", d, cb)
		}
		if !cb.Response.IsCanned() {
			t.Errorf("%s narrative should be canned", d)
		}
		if !strings.Contains(cb.Response.Prompt, "Is it safe for families?") {
			t.Errorf("%s restatement should be a safety inquiry: %q", d, cb.Response.Prompt)
		}
	}
	cb, _ := MatchCallback("ubud", State{})
	for _, want := range []string{"<b>Ubud, Bali</b>", "<b>Safety:</b>", "<b>Weather in June:</b>", "<b>Travel Requirements:</b>", "Sacred Monkey Forest"} {
		if !strings.Contains(cb.Response.Canned, want) {
			t.Errorf("Ubud narrative missing %q", want)
		}
	}
}

func TestMatchCallback_SuggestResortsNeedsSafetyHint(t *testing.T) {
	withHint, ok := MatchCallback("suggest_ubud_resorts", State{
		Destination: models.DestinationUbud,
		TopicHints:  []string{"Tell me more about Ubud. Is it safe for families?"},
	})
	if !ok {
		t.Fatal("suggest_ubud_resorts should be routable")
	}
	if !withHint.Response.IsCanned() {
		t.Fatal("expected canned shortlist after a safety inquiry")
	}
	for _, want := range []string{"Maya Ubud Resort & Spa - $2,100 total", "Kamandalu Ubud - $1,850 total", "Alila Ubud - $1,650 total"} {
		if !strings.Contains(withHint.Response.Canned, want) {
			t.Errorf("shortlist missing %q", want)
		}
	}

	without, _ := MatchCallback("suggest_ubud_resorts", State{Destination: models.DestinationUbud})
	if without.Response.IsCanned() {
		t.Error("expected generation without a preceding safety hint")
	}
	if without.Response.Prompt != "Yes, please suggest some resorts in Ubud. We'd prefer family-friendly options." {
		t.Errorf("unexpected prompt: %q", without.Response.Prompt)
	}
}

func TestMatchCallback_Resorts(t *testing.T) {
	tests := []struct {
		id     string
		resort string
		dest   models.Destination
		canned bool
	}{
		{"maya_ubud", "maya_ubud", models.DestinationUbud, true},
		{"w_bali", "w_bali", models.DestinationSeminyak, true},
		{"six_senses", "six_senses", models.DestinationUluwatu, true},
		{"kamandalu", "kamandalu", models.DestinationUbud, false},
		{"bulgari", "bulgari", models.DestinationUluwatu, false},
		{"details_1_ubud", "maya_ubud", models.DestinationUbud, true},
		{"details_3_seminyak", "bali_mandira", models.DestinationSeminyak, false},
		{"details_2_uluwatu", "anantara", models.DestinationUluwatu, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			cb, ok := MatchCallback(tt.id, State{})
			if !ok {
				t.Fatal("expected routable callback")
			}
			if cb.Category != CategoryResort || cb.Resort != tt.resort || cb.Destination != tt.dest {
				t.Errorf("unexpected callback: %+v", cb)
			}
			if cb.Response.IsCanned() != tt.canned {
				t.Errorf("IsCanned = %v, want %v", cb.Response.IsCanned(), tt.canned)
			}
		})
	}
}

func TestMatchCallback_Flights(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"ubud destination", State{Destination: models.DestinationUbud}, "<b>Combined with Maya Ubud Resort ($2,100):</b> your total is approximately $5,050."},
		{"w bali resort", State{Destination: models.DestinationSeminyak, Resort: "w_bali"}, "approximately $5,400.\n\nThis is above your $3,000 budget."},
		{"uluwatu destination", State{Destination: models.DestinationUluwatu}, "approximately $5,750.\n\nThis is significantly above your $3,000 budget."},
		{"cheaper resort", State{Destination: models.DestinationUbud, Resort: "alila_ubud"}, "<b>Combined with Alila Ubud ($1,650):</b> your total is approximately $4,600."},
		{"unpriced resort uses top offer", State{Destination: models.DestinationSeminyak, Resort: "oberoi"}, "W Bali - Seminyak ($2,450)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := MatchCallback("view_flights", tt.state)
			if !cb.Response.IsCanned() {
				t.Fatal("expected canned flights")
			}
			if !strings.Contains(cb.Response.Canned, tt.want) {
				t.Errorf("flights text missing %q:\n%s", tt.want, cb.Response.Canned)
			}
		})
	}

	cb, _ := MatchCallback("view_flights", State{})
	if cb.Response.IsCanned() {
		t.Error("flights without a destination should be generated")
	}
}

func TestMatchCallback_Activities(t *testing.T) {
	cb, _ := MatchCallback("activities", State{Destination: models.DestinationUbud, Resort: "maya_ubud"})
	if !cb.Response.IsCanned() || !strings.Contains(cb.Response.Canned, "Tegallalang Rice Terraces") {
		t.Error("expected Maya Ubud activity guide")
	}
	cb, _ = MatchCallback("activities", State{Destination: models.DestinationUbud, Resort: "kamandalu"})
	if cb.Response.IsCanned() {
		t.Error("activities for other resorts should be generated")
	}
}

func TestMatchCallback_GeneratedFamilies(t *testing.T) {
	tests := []struct {
		id       string
		category Category
	}{
		{"destinations", CategoryOverview},
		{"budget", CategoryIntakeQuestion},
		{"questions", CategoryIntakeQuestion},
		{"other_destinations", CategoryOtherDestinations},
		{"ubud_activities", CategoryAreaActivities},
		{"all_resorts", CategoryResortBrowse},
		{"more_info", CategoryResortBrowse},
		{"family_activities", CategoryItinerary},
		{"dining", CategoryItinerary},
		{"transportation", CategoryItinerary},
		{"book", CategoryItinerary},
	}
	for _, tt := range tests {
		cb, ok := MatchCallback(tt.id, State{})
		if !ok {
			t.Errorf("%s should be routable", tt.id)
			continue
		}
		if cb.Category != tt.category {
			t.Errorf("%s category = %s, want %s", tt.id, cb.Category, tt.category)
		}
		if cb.Response.IsCanned() {
			t.Errorf("%s should be generated", tt.id)
		}
		if cb.ActionID != tt.id {
			t.Errorf("ActionID = %q, want %q", cb.ActionID, tt.id)
		}
	}
}

func TestMatchCallback_Unknown(t *testing.T) {
	for _, id := range []string{"spa_packages", "details_4_ubud", "suggest_kuta_resorts", "UBUD", ""} {
		if _, ok := MatchCallback(id, State{}); ok {
			t.Errorf("%q should not be routable", id)
		}
	}
}

func TestCannedTextsAreSanitizeFixedPoints(t *testing.T) {
	texts := []string{intakeText, recommendationText(), mayaUbudDetail, wBaliDetail, sixSensesDetail, mayaUbudActivities, Greeting("Ana")}
	for _, d := range models.Destinations {
		a, _ := AreaFor(d)
		texts = append(texts, narrativeText(a), shortlistText(a), flightsText(Offers(d)[0]))
	}
	for _, text := range texts {
		if got := markup.Sanitize(text); got != text {
			t.Errorf("canned text changed by Sanitize:\nbefore: %q\nafter:  %q", text, got)
		}
	}
}

func TestHelpers(t *testing.T) {
	if got := FormatUSD(2100); got != "$2,100" {
		t.Errorf("FormatUSD(2100) = %q", got)
	}
	if got := FormatUSD(950); got != "$950" {
		t.Errorf("FormatUSD(950) = %q", got)
	}
	if got := FormatUSD(1234567); got != "$1,234,567" {
		t.Errorf("FormatUSD(1234567) = %q", got)
	}
	for in, want := range map[string]string{
		"maya_ubud":  "Maya Ubud",
		"W_BALI":     "W Bali",
		"école_trip": "École Trip",
		"über__spa":  "Über Spa",
		"ñandú":      "Ñandú",
		"_":          "",
	} {
		if got := TitleCase(in); got != want {
			t.Errorf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Greeting("<Ana>"); !strings.Contains(got, "<b>&lt;Ana&gt;</b>") {
		t.Errorf("Greeting should escape the name: %q", got)
	}
	ids := []string{
		"maya_ubud", "kamandalu", "alila_ubud",
		"w_bali", "courtyard", "bali_mandira", "oberoi",
		"six_senses", "anantara", "radisson_blu", "bulgari",
	}
	if len(resorts) != len(ids) {
		t.Errorf("expected %d resorts, got %d", len(ids), len(resorts))
	}
	for _, id := range ids {
		if r, ok := ResortFor(id); !ok || r.ID != id {
			t.Errorf("ResortFor(%q) = %+v, %v", id, r, ok)
		}
	}
	if _, ok := ResortFor("hilton"); ok {
		t.Error("unknown resort should not resolve")
	}
	for _, d := range models.Destinations {
		if len(Offers(d)) != 3 {
			t.Errorf("%s should have three offers", d)
		}
	}
}
