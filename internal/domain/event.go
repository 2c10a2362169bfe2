package domain

// Event is one row of the append-only event log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id,omitempty"`
	// CorrelationID groups the events written by one mutation.
	CorrelationID string `json:"correlation_id,omitempty"`
	Payload       string `json:"payload,omitempty"`
}
