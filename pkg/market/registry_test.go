package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupAndOpenSlots(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		slot := slot0.Add(time.Duration(i) * 15 * time.Minute)
		require.NoError(t, r.Register(New(Config{Area: "grid", Kind: Future, TimeSlot: slot})))
	}
	require.NoError(t, r.Register(New(Config{Area: "grid", Kind: Spot, TimeSlot: slot0})))
	assert.Equal(t, 4, r.Count())

	err := r.Register(New(Config{Area: "grid", Kind: Spot, TimeSlot: slot0}))
	require.Error(t, err)

	m, ok := r.Lookup("grid", Future, slot0.Add(15*time.Minute))
	require.True(t, ok)
	got, err := r.Get(m.ID())
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.Get("nope")
	require.Error(t, err)

	require.NoError(t, r.Close("grid", Future, slot0))
	assert.False(t, r.IsOpen("grid", Future, slot0))
	assert.Equal(t, []time.Time{slot0.Add(15 * time.Minute), slot0.Add(30 * time.Minute)}, r.OpenSlots("grid", Future))
	assert.Equal(t, []time.Time{slot0}, r.OpenSlots("grid", Spot))

	require.Error(t, r.Close("house", Spot, slot0))
}

func TestRegistryPurgeOnlyRemovesClosedMarkets(t *testing.T) {
	r := NewRegistry()
	old := New(Config{Area: "grid", TimeSlot: slot0})
	open := New(Config{Area: "house", TimeSlot: slot0})
	next := New(Config{Area: "grid", TimeSlot: slot0.Add(time.Hour)})
	for _, m := range []*Market{old, open, next} {
		require.NoError(t, r.Register(m))
	}
	old.Close()
	next.Close()

	assert.Equal(t, 1, r.Purge(slot0.Add(time.Minute)))
	_, ok := r.Lookup("grid", Spot, slot0)
	assert.False(t, ok)
	assert.Equal(t, 2, r.Count())

	ms := r.Markets()
	require.Len(t, ms, 2)
	assert.Equal(t, "grid", ms[0].Area())
	assert.Equal(t, "house", ms[1].Area())
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		err  bool
	}{
		{"", Spot, false},
		{"spot", Spot, false},
		{"future", Future, false},
		{"settlement", Settlement, false},
		{"weekly", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		if tt.in != "" {
			assert.Equal(t, tt.in, got.String())
		}
	}
}
