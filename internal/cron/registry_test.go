package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRunOrder(t *testing.T) {
	registry := NewRegistry()
	clearing := &stubJob{name: "commission-clearing"}
	batching := &stubJob{name: "payout-batching"}
	require.NoError(t, registry.Register(clearing))
	require.NoError(t, registry.Register(batching))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Same(t, clearing, jobs[0])
	assert.Equal(t, []string{"commission-clearing", "payout-batching"}, registry.Names())

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0])
}

func TestRegistryRejectsInvalidJobs(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register(nil))
	assert.Error(t, registry.Register(&stubJob{name: "  "}))

	require.NoError(t, registry.Register(&stubJob{name: "reconciliation"}))
	assert.ErrorContains(t, registry.Register(&stubJob{name: "reconciliation"}), "already registered")
	assert.Len(t, registry.Jobs(), 1)
}
