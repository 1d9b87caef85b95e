package dlq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/flowengine/dlq"
	"goa.design/flowengine/event"
)

func TestAddAndDrainPreservesFIFOOrder(t *testing.T) {
	q := dlq.New(dlq.Options{})
	q.Add("ch1", event.New("a", "1.0.0", nil), "boom", 1)
	q.Add("ch1", event.New("b", "1.0.0", nil), "boom", 1)

	entries := q.Drain("ch1")
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Envelope.Type)
	assert.Equal(t, "b", entries[1].Envelope.Type)
}

func TestAddEvictsOldestWhenPerChannelBoundExceeded(t *testing.T) {
	var evicted []dlq.Entry
	q := dlq.New(dlq.Options{
		MaxSizePerChannel: 2,
		OnEvict:           func(e dlq.Entry) { evicted = append(evicted, e) },
	})
	q.Add("ch1", event.New("a", "1.0.0", nil), "boom", 1)
	q.Add("ch1", event.New("b", "1.0.0", nil), "boom", 1)
	q.Add("ch1", event.New("c", "1.0.0", nil), "boom", 1)

	require.Len(t, evicted, 1)
	assert.Equal(t, "a", evicted[0].Envelope.Type)
	assert.Equal(t, 2, q.GetStats("ch1").Size)
	assert.Equal(t, int64(1), q.GetStats("ch1").Dropped)
}

func TestAddEvictsAcrossChannelsWhenGlobalBoundExceeded(t *testing.T) {
	q := dlq.New(dlq.Options{MaxSize: 2})
	q.Add("ch1", event.New("a", "1.0.0", nil), "boom", 1)
	q.Add("ch2", event.New("b", "1.0.0", nil), "boom", 1)
	q.Add("ch2", event.New("c", "1.0.0", nil), "boom", 1)

	assert.Equal(t, 0, q.GetStats("ch1").Size)
	assert.Equal(t, 2, q.GetStats("ch2").Size)
}

func TestRetryIncrementsRetriesAndRemovesEntry(t *testing.T) {
	q := dlq.New(dlq.Options{})
	q.Add("ch1", event.New("a", "1.0.0", nil), "boom", 2)

	entry, ok := q.Retry("ch1")
	require.True(t, ok)
	assert.Equal(t, 3, entry.Retries)
	assert.Equal(t, 0, q.GetStats("ch1").Size)
}

func TestRetryOnEmptyChannelReturnsFalse(t *testing.T) {
	q := dlq.New(dlq.Options{})
	_, ok := q.Retry("nope")
	assert.False(t, ok)
}

func TestChannelsListsOnlyNonEmptyBacklogs(t *testing.T) {
	q := dlq.New(dlq.Options{})
	q.Add("ch1", event.New("a", "1.0.0", nil), "boom", 0)
	q.Drain("ch1")
	q.Add("ch2", event.New("b", "1.0.0", nil), "boom", 0)

	assert.ElementsMatch(t, []string{"ch2"}, q.Channels())
}
