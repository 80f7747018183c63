package domain

import "time"

// EventType identifies a committed state change published on the signal bus.
// Every committed mutation is observable exactly once, after commit.
type EventType string

const (
	EventMarketplaceInitialized EventType = "marketplace_initialized"
	EventPropertyListed         EventType = "property_listed"
	EventPropertyUpdated        EventType = "property_updated"
	EventOfferMade              EventType = "offer_made"
	EventSaleCompleted          EventType = "sale_completed"
	EventOfferRejected          EventType = "offer_rejected"
	EventOfferExpired           EventType = "offer_expired"
	EventFeesWithdrawn          EventType = "fees_withdrawn"
)

// Event is the envelope published to the read-side cache and websocket
// subscribers after an operation commits.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Marketplace string         `json:"marketplace"`
	Property    string         `json:"property,omitempty"`
	Offer       string         `json:"offer,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CommittedAt time.Time      `json:"committed_at"`
}

// Channel returns the pub/sub channel an event is published on. Properties,
// offers and sales flow on separate channels so subscribers can filter.
func (e Event) Channel() string {
	switch e.Type {
	case EventPropertyListed, EventPropertyUpdated:
		return "properties"
	case EventOfferMade, EventOfferRejected, EventOfferExpired:
		return "offers"
	case EventSaleCompleted:
		return "sales"
	default:
		return "marketplace"
	}
}
