package ticket

import "strings"

// highDemandKeywords mark fixtures that historically sell out fast.
var highDemandKeywords = []string{
	"final",
	"cup",
	"championship",
	"derby",
	"champions league",
	"playoff",
}

// marqueeVenues are venues whose events are treated as high demand
// regardless of the fixture name.
var marqueeVenues = []string{
	"wembley",
	"old trafford",
	"emirates",
	"anfield",
	"camp nou",
	"bernabeu",
}

// isHighDemand applies the discovery-time heuristic: the event or venue
// name contains a high-demand keyword, or the venue is a marquee venue.
// Matching is case-insensitive substring containment.
func isHighDemand(eventName, venue string) bool {
	name := strings.ToLower(eventName)
	ven := strings.ToLower(venue)

	for _, kw := range highDemandKeywords {
		if strings.Contains(name, kw) || strings.Contains(ven, kw) {
			return true
		}
	}
	for _, mv := range marqueeVenues {
		if strings.Contains(ven, mv) {
			return true
		}
	}
	return false
}
