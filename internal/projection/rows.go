package projection

import (
	"encoding/json"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/settlement-ledger/pkg/bigquery"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema. Amounts
// stay decimal strings so BigQuery parses them into NUMERIC without float
// rounding.
type SettlementEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	AggregateType string             `bigquery:"aggregate_type"`
	AggregateID   string             `bigquery:"aggregate_id"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	OrderID       *string            `bigquery:"order_id"`
	ShopID        *string            `bigquery:"shop_id"`
	PayoutID      *string            `bigquery:"payout_id"`
	Status        *string            `bigquery:"status"`
	Amount        *string            `bigquery:"amount"`
	NetAmount     *string            `bigquery:"net_amount"`
	Currency      *string            `bigquery:"currency"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
	Source        string             `bigquery:"source"`
	IngestedAt    time.Time          `bigquery:"ingested_at"`
}

// SettlementTable returns the table definition, partitioned by day on
// occurred_at.
func SettlementTable(name string) bigquery.TableSpec {
	return bigquery.TableSpec{
		Name:           name,
		PartitionField: "occurred_at",
		Schema: cbigquery.Schema{
			{Name: "event_id", Type: cbigquery.StringFieldType, Required: true},
			{Name: "event_type", Type: cbigquery.StringFieldType, Required: true},
			{Name: "aggregate_type", Type: cbigquery.StringFieldType, Required: true},
			{Name: "aggregate_id", Type: cbigquery.StringFieldType, Required: true},
			{Name: "occurred_at", Type: cbigquery.TimestampFieldType, Required: true},
			{Name: "order_id", Type: cbigquery.StringFieldType},
			{Name: "shop_id", Type: cbigquery.StringFieldType},
			{Name: "payout_id", Type: cbigquery.StringFieldType},
			{Name: "status", Type: cbigquery.StringFieldType},
			{Name: "amount", Type: cbigquery.NumericFieldType},
			{Name: "net_amount", Type: cbigquery.NumericFieldType},
			{Name: "currency", Type: cbigquery.StringFieldType},
			{Name: "payload", Type: cbigquery.JSONFieldType},
			{Name: "source", Type: cbigquery.StringFieldType, Required: true},
			{Name: "ingested_at", Type: cbigquery.TimestampFieldType, Required: true},
		},
	}
}

// payloadJSON keeps the raw event payload for ad hoc queries; an empty
// payload is stored as NULL.
func payloadJSON(raw json.RawMessage) cbigquery.NullJSON {
	if len(raw) == 0 || string(raw) == "null" {
		return cbigquery.NullJSON{}
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}
}
