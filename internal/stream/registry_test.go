package stream

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schwabstream/pkg/schwab"
)

const eq = schwab.ServiceLevelOneEquities

func mustNormalize(t *testing.T, sub Subscription) Subscription {
	t.Helper()
	n, err := sub.normalize()
	require.NoError(t, err)
	return n
}

// go test -v --run TestRegistryUnionAndAll
func TestRegistryUnionAndAll(t *testing.T) {
	r := NewRegistry()

	wire := r.Apply(mustNormalize(t, Subscribe(eq, []string{"SPY"}, "bid")))
	require.Len(t, wire, 1)
	assert.Equal(t, schwab.CommandSubs, wire[0].Command)

	wire = r.Apply(mustNormalize(t, Add(eq, []string{"SPY"}, "ask")))
	require.Len(t, wire, 1)
	assert.Equal(t, schwab.CommandAdd, wire[0].Command)
	assert.Equal(t, []string{"1", "2"}, wire[0].Fields)

	fields, ok := r.Fields(eq, "SPY")
	require.True(t, ok)
	assert.Equal(t, []string{"1", "2"}, fields)

	// empty means all and absorbs later unions
	r.Apply(mustNormalize(t, Add(eq, []string{"SPY"})))
	r.Apply(mustNormalize(t, Add(eq, []string{"SPY"}, "last")))
	fields, ok = r.Fields(eq, "SPY")
	require.True(t, ok)
	assert.Nil(t, fields)
}

// go test -v --run TestRegistryUnsubscribeResubscribe
func TestRegistryUnsubscribeResubscribe(t *testing.T) {
	r := NewRegistry()
	r.Apply(mustNormalize(t, Subscribe(eq, []string{"SPY"}, "bid", "ask", "last")))
	r.Apply(mustNormalize(t, Unsubscribe(eq, "SPY")))

	_, ok := r.Fields(eq, "SPY")
	assert.False(t, ok)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())

	wire := r.Apply(mustNormalize(t, Subscribe(eq, []string{"SPY"}, "mark")))
	require.Len(t, wire, 1)
	assert.Equal(t, schwab.CommandSubs, wire[0].Command, "service is empty again")

	fields, _ := r.Fields(eq, "SPY")
	assert.Equal(t, []string{"33"}, fields, "no stale fields survive")
}

// go test -v --run TestRegistrySnapshotGroups
func TestRegistrySnapshotGroups(t *testing.T) {
	r := NewRegistry()
	r.Apply(mustNormalize(t, Subscribe(eq, []string{"SPY", "QQQ"}, "bid", "ask")))
	r.Apply(mustNormalize(t, Add(eq, []string{"AAPL"})))
	r.Apply(mustNormalize(t, Subscribe(schwab.ServiceLevelOneOptions, []string{"SPY   260320C00600000"}, "delta")))

	snap := r.Snapshot()
	require.Len(t, snap, 3)

	assert.Equal(t, eq, snap[0].Service)
	assert.Equal(t, []string{"AAPL"}, snap[0].Keys)
	assert.Nil(t, snap[0].Fields)

	assert.Equal(t, []string{"QQQ", "SPY"}, snap[1].Keys)
	assert.Equal(t, []string{"1", "2"}, snap[1].Fields)

	assert.Equal(t, schwab.ServiceLevelOneOptions, snap[2].Service)
	for _, sub := range snap {
		assert.Equal(t, schwab.CommandSubs, sub.Command)
	}

	replay := r.Replay()
	assert.Equal(t, schwab.CommandSubs, replay[0].Command)
	assert.Equal(t, schwab.CommandAdd, replay[1].Command)
	assert.Equal(t, schwab.CommandSubs, replay[2].Command)
}

// go test -v --run TestRegistryView
func TestRegistryView(t *testing.T) {
	r := NewRegistry()
	r.Apply(mustNormalize(t, Subscribe(eq, []string{"SPY"})))
	r.Apply(mustNormalize(t, View(eq, "bid", "ask")))

	assert.Equal(t, []string{"1", "2"}, r.View(eq))
	fields, _ := r.Fields(eq, "SPY")
	assert.Nil(t, fields, "view leaves subscriptions untouched")

	replay := r.Replay()
	require.Len(t, replay, 2)
	assert.Equal(t, schwab.CommandView, replay[1].Command)
}

// go test -v --run TestSubscriptionNormalize
func TestSubscriptionNormalize(t *testing.T) {
	_, err := Subscribe("CHART_EQUITY", []string{"SPY"}).normalize()
	assert.Error(t, err)

	_, err = Subscribe(eq, nil).normalize()
	assert.Error(t, err)

	_, err = Subscribe(eq, []string{"SPY"}, "nope").normalize()
	assert.Error(t, err)

	n, err := Subscribe(eq, []string{" SPY ", "SPY", "QQQ"}, "ask", "bid").normalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"SPY", "QQQ"}, n.Keys)
	assert.Equal(t, []string{"1", "2"}, n.Fields)
}

// model is the expected registry state: key -> field set, nil = all.
type model map[string]map[string]bool

// go test -v --run TestRegistryReplayIdempotence
func TestRegistryReplayIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"SPY", "QQQ", "AAPL", "MSFT"}
	fieldPool := []string{"1", "2", "3", "8", "33"}

	for round := 0; round < 200; round++ {
		r := NewRegistry()
		want := model{}

		for step := 0; step < 25; step++ {
			keys := pick(rng, symbols, 1+rng.Intn(2))
			var fields []string
			if rng.Intn(4) > 0 {
				fields = pick(rng, fieldPool, 1+rng.Intn(3))
			}

			switch rng.Intn(4) {
			case 0:
				r.Apply(mustNormalize(t, Subscribe(eq, keys, fields...)))
				want.union(keys, fields)
			case 1:
				r.Apply(mustNormalize(t, Add(eq, keys, fields...)))
				want.union(keys, fields)
			case 2:
				r.Apply(mustNormalize(t, Unsubscribe(eq, keys...)))
				for _, k := range keys {
					delete(want, k)
				}
			case 3:
				r.Apply(mustNormalize(t, View(eq, fields...)))
			}
		}

		// replaying the snapshot into a fresh registry yields the same state
		replayed := NewRegistry()
		for _, sub := range r.Snapshot() {
			replayed.Apply(sub)
		}

		require.Equal(t, len(want), replayed.Len(), "round %d", round)
		for key, fs := range want {
			got, ok := replayed.Fields(eq, key)
			require.True(t, ok, "round %d key %s", round, key)
			if fs == nil {
				assert.Nil(t, got, "round %d key %s", round, key)
				continue
			}
			assert.Equal(t, sortedKeys(fs), got, "round %d key %s", round, key)
		}
		assert.Equal(t, r.Snapshot(), replayed.Snapshot())
	}
}

func (m model) union(keys, fields []string) {
	for _, k := range keys {
		cur, exists := m[k]
		if len(fields) == 0 || (exists && cur == nil) {
			m[k] = nil
			continue
		}
		if !exists {
			cur = map[string]bool{}
		}
		for _, f := range fields {
			cur[f] = true
		}
		m[k] = cur
	}
}

func pick(rng *rand.Rand, pool []string, n int) []string {
	idx := rng.Perm(len(pool))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}
