// Package catalog holds the scripted Bali content and the predicates that
// decide whether a turn is answered with canned text or handed to the model.
//
// All tables are built at package initialisation and never mutated, so they
// are safe to share across sessions.
package catalog

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// Trip constants shared by the scripted itinerary.
const (
	TripWindow   = "June 15-22"
	TripParty    = "2 adults, 1 child"
	TripBudget   = 3000
	FlightsTotal = 2950
	// significantOverrun is the amount over budget at which the flight
	// summary calls the total "significantly above" the budget.
	significantOverrun = 2500
)

// Resort is a bookable hotel the bot can talk about.
type Resort struct {
	ID          string
	Destination models.Destination
	// Name is the display name used in shortlists and headings.
	Name string
	// ShortName is used in budget summaries.
	ShortName string
	// PromptName is how the resort is named in generated prompts.
	PromptName string
	// Price is the total for the scripted trip window in USD; zero when the
	// resort is recognised but not part of a shortlist.
	Price    int
	Features []string
	// Detail is the canned detail text; empty means the detail is generated.
	Detail string
	// DetailPrompt restates a request for this resort's details.
	DetailPrompt string
}

// Area describes one of the three destinations.
type Area struct {
	ID models.Destination
	// Name is used in narratives; PickerLabel on the area picker button.
	Name        string
	PickerLabel string
	Blurb       string
	// Summary completes "<Name>, Bali is ..." in the narrative opening.
	Summary      string
	Safety       string
	Activities   []string
	Weather      string
	Requirements string
	// Offers are the three ranked resort IDs.
	Offers [3]string
}

// AreaFor returns the catalog entry for d.
func AreaFor(d models.Destination) (Area, bool) {
	a, ok := areas[d]
	return a, ok
}

// ResortFor returns the resort with the given identifier.
func ResortFor(id string) (Resort, bool) {
	r, ok := resorts[id]
	return r, ok
}

// Offers returns the ranked resort offers for d.
func Offers(d models.Destination) []Resort {
	a, ok := areas[d]
	if !ok {
		return nil
	}
	out := make([]Resort, 0, len(a.Offers))
	for _, id := range a.Offers {
		out = append(out, resorts[id])
	}
	return out
}

// FormatUSD renders a whole-dollar amount with thousands separators ("$2,100").
func FormatUSD(amount int) string {
	s := fmt.Sprintf("%d", amount)
	var sb strings.Builder
	sb.WriteByte('$')
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// TitleCase turns an action identifier such as "maya_ubud" into "Maya Ubud".
func TitleCase(id string) string {
	words := strings.Fields(strings.ReplaceAll(id, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

var areas = map[models.Destination]Area{
	models.DestinationUbud: {
		ID:          models.DestinationUbud,
		Name:        "Ubud",
		PickerLabel: "Ubud",
		Blurb:       "Cultural heart of Bali with stunning rice terraces and wellness retreats",
		Summary:     "is generally considered safe for families and is one of Bali's most popular cultural destinations",
		Safety:      "Ubud is very safe for tourists and families. The local community is friendly and welcoming to children. As with any destination, basic precautions are recommended.",
		Activities: []string{
			"Many resorts offer kids' clubs and family-friendly pools",
			"Sacred Monkey Forest Sanctuary for interactive wildlife experiences",
			"Bali Bird Park and Bali Zoo with animal encounters",
			"Traditional dance performances suitable for all ages",
		},
		Weather:      "Expect temperatures around 75-85°F with low humidity. June is in the dry season, perfect for outdoor activities.",
		Requirements: "You'll need passports for everyone, including your child. Most visitors can get a 30-day visa on arrival in Bali.",
		Offers:       [3]string{"maya_ubud", "kamandalu", "alila_ubud"},
	},
	models.DestinationSeminyak: {
		ID:          models.DestinationSeminyak,
		Name:        "Seminyak",
		PickerLabel: "Seminyak/Kuta",
		Blurb:       "Beach resorts with great surfing and vibrant nightlife",
		Summary:     "is generally considered safe for families and is one of Bali's most popular beach areas",
		Safety:      "The resort areas are well-patrolled and secure. Be cautious with children at the beach as some areas have strong currents. As with any destination, basic precautions are recommended.",
		Activities: []string{
			"Many resorts offer kids' clubs and family-friendly pools",
			"Waterbom Bali water park with slides and splash zones",
			"Double Six Beach with gentler waves in some sections",
			"Family-friendly beach clubs with shallow pools",
		},
		Weather:      "Expect temperatures around 80-85°F with low humidity. June is in the dry season, perfect for beach activities.",
		Requirements: "You'll need passports for everyone, including your child. Most visitors can get a 30-day visa on arrival in Bali.",
		Offers:       [3]string{"w_bali", "courtyard", "bali_mandira"},
	},
	models.DestinationUluwatu: {
		ID:          models.DestinationUluwatu,
		Name:        "Uluwatu",
		PickerLabel: "Uluwatu",
		Blurb:       "Dramatic clifftop location with luxury resorts and famous temples",
		Summary:     "is generally considered safe for families, though it's better suited for families with older children",
		Safety:      "The resort areas are secure, but be cautious near cliff edges with children. Many beaches have strong currents and are better for watching surfers than swimming. As with any destination, basic precautions are recommended.",
		Activities: []string{
			"Luxury resorts with family-friendly infinity pools",
			"Uluwatu Temple and traditional Kecak dance performances",
			"Padang Padang Beach has a protected cove suitable for children",
			"Garuda Wisnu Kencana Cultural Park with performances",
		},
		Weather:      "Expect temperatures around 75-85°F with pleasant ocean breezes. June is in the dry season, perfect for outdoor activities.",
		Requirements: "You'll need passports for everyone, including your child. Most visitors can get a 30-day visa on arrival in Bali.",
		Offers:       [3]string{"six_senses", "anantara", "radisson_blu"},
	},
}

var resorts = buildResorts([]Resort{
	{
		ID: "maya_ubud", Destination: models.DestinationUbud,
		Name: "Maya Ubud Resort & Spa", ShortName: "Maya Ubud Resort", PromptName: "Maya Ubud Resort",
		Price: 2100,
		Features: []string{
			"Spacious garden villas with separate bedroom",
			"2 restaurants, 2 pools including infinity pool overlooking the jungle",
			"Daily cultural activities and kids' programs",
		},
		Detail: mayaUbudDetail,
	},
	{
		ID: "kamandalu", Destination: models.DestinationUbud,
		Name: "Kamandalu Ubud", Price: 1850,
		Features: []string{
			"Traditional Balinese villas with modern amenities",
			"Forest pool, organic garden, and rice field views",
			"Lower price point gives room in your budget for excursions",
		},
	},
	{
		ID: "alila_ubud", Destination: models.DestinationUbud,
		Name: "Alila Ubud", Price: 1650,
		Features: []string{
			"Good value option with stunning valley views",
			"Award-winning infinity pool and nature activities",
			"Leaves significant room in your budget for flights and extras",
		},
	},
	{
		ID: "w_bali", Destination: models.DestinationSeminyak,
		Name: "W Bali - Seminyak", Price: 2450,
		Features: []string{
			"Stylish rooms with separate living area",
			"3 restaurants, WET® pool with children's section",
			"Daily activities and AWAY® Spa",
		},
		Detail: wBaliDetail,
	},
	{
		ID: "courtyard", Destination: models.DestinationSeminyak,
		Name: "Courtyard by Marriott Bali Seminyak", PromptName: "Courtyard by Marriott in Seminyak",
		Price: 1950,
		Features: []string{
			"Family rooms with modern amenities",
			"Kids' club, large lagoon pool with kids' area",
			"Lower price point gives room in your budget for excursions",
		},
	},
	{
		ID: "bali_mandira", Destination: models.DestinationSeminyak,
		Name: "Bali Mandira Beach Resort", PromptName: "Bali Mandira Beach Resort in Seminyak",
		Price: 1750,
		Features: []string{
			"Good value option with Balinese-style rooms",
			"Water slide, kids' pool, and beachfront location",
			"Leaves significant room in your budget for flights and extras",
		},
	},
	{
		ID: "oberoi", Destination: models.DestinationSeminyak,
		Name: "The Oberoi Beach Resort", PromptName: "The Oberoi Beach Resort in Seminyak",
	},
	{
		ID: "six_senses", Destination: models.DestinationUluwatu,
		Name: "Six Senses Uluwatu", Price: 2800,
		Features: []string{
			"Luxury sky suites with ocean views",
			"3 restaurants, multiple pools including family pool",
			"Grow With Six Senses kids' program",
		},
		Detail: sixSensesDetail,
	},
	{
		ID: "anantara", Destination: models.DestinationUluwatu,
		Name: "Anantara Uluwatu", Price: 2400,
		Features: []string{
			"Ocean view suites with modern design",
			"Infinity pool, kids' activities, and spa",
			"Mid-range price point with luxury amenities",
		},
	},
	{
		ID: "radisson_blu", Destination: models.DestinationUluwatu,
		Name: "Radisson Blu Uluwatu", Price: 1950,
		Features: []string{
			"Good value option with spacious rooms",
			"Large pool, kids' club, and family activities",
			"Leaves significant room in your budget for flights and extras",
		},
	},
	{
		ID: "bulgari", Destination: models.DestinationUluwatu,
		Name: "Bulgari Resort Bali", PromptName: "Bulgari Resort Bali in Uluwatu",
	},
})

func buildResorts(list []Resort) map[string]Resort {
	m := make(map[string]Resort, len(list))
	for _, r := range list {
		if r.ShortName == "" {
			r.ShortName = r.Name
		}
		if r.PromptName == "" {
			r.PromptName = r.Name
		}
		if r.Detail != "" {
			r.DetailPrompt = fmt.Sprintf("Tell me more about %s. What amenities do they offer for families?", r.PromptName)
		} else {
			r.DetailPrompt = fmt.Sprintf("Tell me more about %s. What amenities do they offer for families with a child?", r.PromptName)
		}
		m[r.ID] = r
	}
	return m
}
