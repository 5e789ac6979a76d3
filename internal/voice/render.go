package voice

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/tools"
)

// maxSpoken is how many records a list answer reads out.
const maxSpoken = 3

// maxNoteRunes bounds how much of an agent note is read out.
const maxNoteRunes = 150

// TextRenderer renders catalog results as plain sentences.
type TextRenderer struct{}

// Render implements Renderer.
func (TextRenderer) Render(operation string, result any) (string, error) {
	switch r := result.(type) {
	case tools.SearchResult:
		if operation == "track_vessel" {
			return vesselSentence(r), nil
		}
		return searchSentence(r), nil
	case tools.TrackResult:
		return trackSentence(r), nil
	case tools.MutationResult:
		return "Successfully updated. " + r.Message + ".", nil
	case tools.DelayedResult:
		return delayedSentence(r), nil
	case tools.RouteResult:
		return routeSentence(r), nil
	case query.Analytics:
		return analyticsSentence(r), nil
	case tools.PredictionResult:
		return predictionSentence(r), nil
	case tools.ProjectedResult:
		return countSentence(r.Count), nil
	case tools.HistoryResult:
		return fmt.Sprintf("Shipment %s has %s in its history.", r.ShipmentID, plural(r.Count, "change")), nil
	case tools.ExceptionResult:
		if r.WarningSent {
			return fmt.Sprintf("A delay warning was sent for shipment %s.", r.ShipmentID), nil
		}
		return fmt.Sprintf("No warning was sent for shipment %s: %s.", r.ShipmentID, r.Reason), nil
	case tools.PortalLinkResult:
		return fmt.Sprintf("I created a tracking link for shipment %s. It is valid until %s.",
			r.ShipmentID, r.ValidUntil.UTC().Format("January 2")), nil
	case tools.ServerStatus:
		return fmt.Sprintf("The server is %s.", r.Status), nil
	}
	return genericSentence(result)
}

func searchSentence(r tools.SearchResult) string {
	if r.Count == 0 {
		return "I didn't find any shipments matching your criteria. Would you like to try a different search?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %s. ", plural(r.Count, "shipment"))
	for i, s := range r.Results {
		if i == maxSpoken {
			break
		}
		fmt.Fprintf(&b, "Shipment %d: %s, %s, currently at %s. ", i+1, s.ID, spokenStatus(s.Status), location(s))
	}
	if rest := r.Count - maxSpoken; rest > 0 {
		fmt.Fprintf(&b, "And %s more. ", plural(rest, "shipment"))
	}
	b.WriteString("Would you like details on any specific shipment?")
	return b.String()
}

func trackSentence(r tools.TrackResult) string {
	s := r.Shipment
	var b strings.Builder
	fmt.Fprintf(&b, "Shipment %s is %s. ", s.ID, spokenStatus(s.Status))
	fmt.Fprintf(&b, "It's currently at %s on the %s. ", location(s), deref(s.VesselName, "unknown vessel"))
	if r.IsLate {
		fmt.Fprintf(&b, "It is %s past its expected arrival. ", plural(r.DaysDelayed, "day"))
	}
	if s.RiskFlag {
		b.WriteString("This shipment is flagged as high risk. ")
		if s.AgentNotes != nil && *s.AgentNotes != "" {
			note := []rune(lastLine(*s.AgentNotes))
			if len(note) > maxNoteRunes {
				note = note[:maxNoteRunes]
			}
			b.WriteString(string(note) + ". ")
		}
	}
	return strings.TrimSpace(b.String())
}

func vesselSentence(r tools.SearchResult) string {
	if r.Count == 0 {
		return "I couldn't find any shipments on that vessel. Please check the vessel name."
	}
	first := r.Results[0]
	var b strings.Builder
	fmt.Fprintf(&b, "The %s ", deref(first.VesselName, "vessel"))
	if first.CurrentLocation != nil {
		fmt.Fprintf(&b, "is currently at %s. It's ", *first.CurrentLocation)
	} else {
		b.WriteString("is ")
	}
	fmt.Fprintf(&b, "carrying %s.", plural(r.Count, "shipment"))
	return b.String()
}

func delayedSentence(r tools.DelayedResult) string {
	if r.Count == 0 {
		return "Good news: no shipments are running late."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s running late. ", capitalize(plural(r.Count, "shipment")+verb(r.Count)))
	for i, d := range r.Results {
		if i == maxSpoken {
			break
		}
		fmt.Fprintf(&b, "%s is %s late. ", d.ID, plural(d.DaysDelayed, "day"))
	}
	return strings.TrimSpace(b.String())
}

func routeSentence(r tools.RouteResult) string {
	st := r.Statistics
	subject := "Across all routes"
	if !r.GlobalRollup {
		subject = "On that route"
	}
	return fmt.Sprintf("%s there %s %s: %d in transit, %d delayed, and %d flagged as at risk.",
		subject, be(st.Total), plural(st.Total, "shipment"), st.InTransit, st.Delayed, st.AtRisk)
}

func analyticsSentence(a query.Analytics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "There are %s in total. ", plural(a.Total, "shipment"))
	fmt.Fprintf(&b, "%d in transit, %d delayed, and %d flagged as at risk. ",
		a.StatusBreakdown[string(model.StatusInTransit)], a.DelayedByETA, a.RiskFlagged)
	if n := len(a.Upcoming); n > 0 {
		fmt.Fprintf(&b, "%s due in the next week.", capitalize(plural(n, "arrival")+verb(n)))
	}
	return strings.TrimSpace(b.String())
}

func predictionSentence(r tools.PredictionResult) string {
	pct := int(math.Round(r.Confidence * 100))
	if !r.WillDelay {
		return fmt.Sprintf("Shipment %s is expected to arrive on time, with %d%% confidence.", r.ShipmentID, pct)
	}
	s := fmt.Sprintf("Shipment %s is likely to be delayed by about %s, with %d%% confidence.",
		r.ShipmentID, plural(int(math.Round(r.PredictedDelayHours)), "hour"), pct)
	if r.Recommendation != "" {
		s += " " + r.Recommendation
	}
	return s
}

func countSentence(n int) string {
	if n == 0 {
		return "I didn't find any shipments matching your criteria."
	}
	return fmt.Sprintf("I found %s.", plural(n, "shipment"))
}

func genericSentence(result any) (string, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("voice: encode result: %w", err)
	}
	return "Done. " + string(b), nil
}

func spokenStatus(s model.ShipmentStatus) string {
	return strings.ToLower(strings.ReplaceAll(string(s), "_", " "))
}

func location(s model.Shipment) string {
	return deref(s.CurrentLocation, "an unknown location")
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func verb(n int) string {
	if n == 1 {
		return " is"
	}
	return " are"
}

func be(n int) string {
	if n == 1 {
		return "is"
	}
	return "are"
}
