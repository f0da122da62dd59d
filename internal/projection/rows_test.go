package projection

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementTableCoversRowColumns(t *testing.T) {
	spec := SettlementTable("settlement_events")
	require.Equal(t, "settlement_events", spec.Name)
	assert.Equal(t, "occurred_at", spec.PartitionField)

	columns := map[string]bool{}
	for _, f := range spec.Schema {
		columns[f.Name] = true
	}
	rowType := reflect.TypeOf(SettlementEventRow{})
	require.Equal(t, rowType.NumField(), len(spec.Schema))
	for i := 0; i < rowType.NumField(); i++ {
		tag := rowType.Field(i).Tag.Get("bigquery")
		assert.True(t, columns[tag], "column %s missing from schema", tag)
	}
}
