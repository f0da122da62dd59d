package projection

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

// Envelope is a settlement event as received from the settlement topic.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Version       int                       `json:"version"`
	Payload       json.RawMessage           `json:"payload"`
}
