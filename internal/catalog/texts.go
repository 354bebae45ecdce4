package catalog

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TripPipe/internal/markup"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// Fixed texts for the process entry points.
const (
	HelpText = "I can help you plan your vacation! Just tell me what kind of trip you're looking for, " +
		"and I'll guide you through the process. You can ask about destinations, accommodations, " +
		"flights, activities, and more."
	FarewellText = "Your travel planning session has been cancelled. " +
		"Feel free to start a new one anytime with /start."
	// GenerationApology prefixes the last rendered reply when the model is unavailable.
	GenerationApology = "Sorry, I couldn't put together a new answer just now. Here's where we left off:"
	// GenerationRetry is sent when the model fails before anything was rendered.
	GenerationRetry = "Sorry, I couldn't put together an answer just now. Please try again in a moment."
	// FormattingApology prefixes the plain-text resend after a formatting rejection.
	FormattingApology = "I apologize, but there was an issue with formatting my response. " +
		"Here's the plain text version:\n\n"
	// FormattingFallback is the plain notice sent when a reply could not be delivered.
	FormattingFallback = "Error retrieving response."
	// CatchAllPrompt is asked for callbacks no table knows.
	CatchAllPrompt = "I need more information about my travel options."
	// SelectionEchoPrefix starts the confirmation that replaces a pressed button.
	SelectionEchoPrefix = "You selected: "
)

// Greeting returns the /start greeting. The name is escaped for HTML.
func Greeting(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "there"
	}
	name = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(name)
	return fmt.Sprintf("Hello <b>%s</b>! I'm your travel planning assistant. How can I help you plan your next vacation?", name)
}

// SelectionEcho renders the "You selected: X" line for an action.
func SelectionEcho(label string) string {
	return SelectionEchoPrefix + label
}

const intakeText = "Hello! I'd be happy to help you plan your vacation to Bali. To get started:\n" +
	"• When exactly are you planning to travel?\n" +
	"• How many people will be traveling?\n" +
	"• Do you have any specific areas in Bali in mind?\n" +
	"• What's your approximate budget range for this trip?"

func recommendationText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Thanks for sharing those details! Based on your dates (%s), party size (%s), and $%d budget, "+
		"here are some beautiful destinations in Bali that would work well:\n\n", TripWindow, TripParty, TripBudget)
	for i, d := range models.Destinations {
		a := areas[d]
		fmt.Fprintf(&sb, "<b>%d. %s</b> - %s\n", i+1, a.PickerLabel, a.Blurb)
	}
	sb.WriteString("\nWould you like more information about any of these destinations? Or do you have other preferences I should consider?")
	return sb.String()
}

func narrativeText(a Area) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s, Bali</b> %s. Here's what you should know:\n\n", a.Name, a.Summary)
	fmt.Fprintf(&sb, "<b>Safety:</b> %s\n\n", a.Safety)
	sb.WriteString("<b>Family Activities:</b>\n")
	for _, act := range a.Activities {
		sb.WriteString(markup.Bullet + act + "\n")
	}
	fmt.Fprintf(&sb, "\n<b>Weather in June:</b> %s\n\n", a.Weather)
	fmt.Fprintf(&sb, "<b>Travel Requirements:</b> %s\n\n", a.Requirements)
	fmt.Fprintf(&sb, "Would you like me to recommend some specific family-friendly resorts in %s that fit your budget?", a.Name)
	return sb.String()
}

func shortlistText(a Area) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Based on your requirements (%s, %s, $%d budget), here are three excellent family-friendly resorts in %s:</b>\n\n",
		TripWindow, TripParty, TripBudget, a.Name)
	for i, id := range a.Offers {
		r := resorts[id]
		fmt.Fprintf(&sb, "%d. <b>%s - %s total</b>\n", i+1, r.Name, FormatUSD(r.Price))
		for _, f := range r.Features {
			sb.WriteString(markup.Bullet + f + "\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Would you like more specific details about any of these options? Or would you prefer to explore different destinations?")
	return sb.String()
}

func flightsText(r Resort) string {
	total := FlightsTotal + r.Price
	degree := "above"
	if total-TripBudget >= significantOverrun {
		degree = "significantly above"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "I've checked flights from Chicago (ORD) to Denpasar, Bali (DPS) for your dates (%s):\n\n", TripWindow)
	sb.WriteString(flightOptions)
	fmt.Fprintf(&sb, "<b>Total for flights:</b> ~%s (%s)\n", FormatUSD(FlightsTotal), TripParty)
	fmt.Fprintf(&sb, "<b>Combined with %s (%s):</b> your total is approximately %s.\n\n", r.ShortName, FormatUSD(r.Price), FormatUSD(total))
	fmt.Fprintf(&sb, "This is %s your %s budget. Would you like to:\n", degree, FormatUSD(TripBudget))
	sb.WriteString("1. Consider traveling during a different time when flights might be cheaper\n" +
		"2. Look at alternative accommodations that are more budget-friendly\n" +
		"3. Consider a destination closer to home\n" +
		"4. Extend your budget for this special trip")
	return sb.String()
}

const flightOptions = "<b>Best Options:</b>\n" +
	"1. <b>Singapore Airlines:</b> $1,250/person round trip (1 stop in Singapore)\n" +
	"   • Depart: 1:15 PM, Arrive: 11:45 PM (next day)\n" +
	"   • Return: 7:30 AM, Arrive: 5:10 PM (same day)\n\n" +
	"2. <b>Qatar Airways:</b> $1,320/person round trip (1 stop in Doha)\n" +
	"   • Depart: 8:15 PM, Arrive: 10:20 PM (next day)\n" +
	"   • Return: 11:55 PM, Arrive: 8:45 PM (next day)\n\n" +
	"3. <b>Cathay Pacific:</b> $1,180/person round trip (1 stop in Hong Kong)\n" +
	"   • Depart: 3:40 PM, Arrive: 1:15 AM (+2 days)\n" +
	"   • Return: 2:35 AM, Arrive: 9:25 PM (same day)\n\n"

const mayaUbudDetail = "<b>Maya Ubud Resort & Spa - $2,100 total</b>\n\n" +
	"This is an excellent choice for families! Here are the details:\n\n" +
	"<b>Accommodations:</b>\n" +
	"• Spacious garden villas with room for 2 adults and 1 child\n" +
	"• Beautiful tropical garden and river valley setting\n\n" +
	"<b>Family-Friendly Features:</b>\n" +
	"• Two swimming pools including a family-friendly pool\n" +
	"• Kids' activities and babysitting services available\n" +
	"• On-site restaurants with children's menu options\n" +
	"• Complimentary shuttle service to Ubud center\n\n" +
	"<b>Location:</b>\n" +
	"• 10-minute drive from central Ubud\n" +
	"• Set between the Petanu River valley and rice fields\n\n" +
	"At $2,100 for your 7-night stay, this leaves room in your $3,000 budget for flights and activities. " +
	"Would you like to know about flight options from your location?"

const wBaliDetail = "<b>W Bali - Seminyak - $2,450 total</b>\n\n" +
	"This is a stylish, family-friendly resort! Here are the details:\n\n" +
	"<b>Accommodations:</b>\n" +
	"• Spacious Wonderful Garden View Escape room with space for 2 adults and 1 child\n" +
	"• Modern design with Balinese touches\n\n" +
	"<b>Family-Friendly Features:</b>\n" +
	"• WET® pool with separate children's pool area\n" +
	"• AWAY® Spa for parents while kids enjoy supervised activities\n" +
	"• Multiple dining options with children's menus\n" +
	"• Direct beach access with gentle waves in protected areas\n\n" +
	"<b>Location:</b>\n" +
	"• Prime beachfront location in Seminyak\n" +
	"• Walking distance to shops and restaurants\n\n" +
	"At $2,450 for your 7-night stay, this leaves room in your $3,000 budget for flights and activities. " +
	"Would you like to know about flight options from your location?"

const sixSensesDetail = "<b>Six Senses Uluwatu - $2,800 total</b>\n\n" +
	"This is a luxury resort with excellent family amenities! Here are the details:\n\n" +
	"<b>Accommodations:</b>\n" +
	"• Sky Suite with stunning ocean views and space for 2 adults and 1 child\n" +
	"• Sustainable luxury design with Balinese influences\n\n" +
	"<b>Family-Friendly Features:</b>\n" +
	"• Multiple swimming pools including a family pool\n" +
	"• Grow With Six Senses kids' club with educational activities\n" +
	"• Family cooking classes and cultural experiences\n" +
	"• Organic garden tours and sustainability workshops\n\n" +
	"<b>Location:</b>\n" +
	"• Perched on a clifftop with panoramic ocean views\n" +
	"• 30 minutes from Ngurah Rai International Airport\n\n" +
	"At $2,800 for your 7-night stay, this is at the higher end of your $3,000 budget but offers exceptional value. " +
	"Would you like to know about flight options from your location?"

const mayaUbudActivities = "<b>Family-Friendly Activities Near Maya Ubud Resort:</b>\n\n" +
	"<b>At the Resort:</b>\n" +
	"• Swimming in the riverside pool with jungle views\n" +
	"• Balinese cooking classes for families\n" +
	"• Guided nature walks through the resort's gardens\n" +
	"• Yoga classes suitable for beginners and children\n\n" +
	"<b>Short Drive (5-15 minutes):</b>\n" +
	"• Sacred Monkey Forest Sanctuary - interact with playful monkeys\n" +
	"• Ubud Palace and Traditional Dance performances\n" +
	"• Ubud Art Market - shop for souvenirs and watch artisans at work\n" +
	"• Campuhan Ridge Walk - easy hiking trail with beautiful views\n\n" +
	"<b>Worth the Drive (15-30 minutes):</b>\n" +
	"• Tegallalang Rice Terraces - stunning stepped rice fields\n" +
	"• Bali Bird Park - home to over 1,000 birds from 250 species\n" +
	"• Bali Zoo - family-friendly zoo with animal feeding experiences\n" +
	"• Tegenungan Waterfall - beautiful waterfall with swimming area\n\n" +
	"<b>Transportation Options:</b>\n" +
	"• Resort shuttle service to Ubud center (complimentary)\n" +
	"• Private car with driver (~$50/day)\n" +
	"• Scooter rental (not recommended with young children)"
