package librealtime

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventFilter(t *testing.T) {
	for in, want := range map[string]EventFilter{
		"":        EventAll,
		"*":       EventAll,
		"all":     EventAll,
		"insert":  EventInsert,
		" UPDATE": EventUpdate,
		"Delete":  EventDelete,
	} {
		got, err := ParseEventFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEventFilter("truncate")
	assert.Error(t, err)
}

func TestEventFilterMatches(t *testing.T) {
	assert.True(t, EventAll.Matches(ChangeDelete))
	assert.True(t, EventFilter("").Matches(ChangeInsert))
	assert.True(t, EventUpdate.Matches(ChangeUpdate))
	assert.False(t, EventUpdate.Matches(ChangeInsert))
}

func TestDecodeChange(t *testing.T) {
	var raw RawChange
	require.NoError(t, json.Unmarshal([]byte(`{
		"schema": "public",
		"table": "posts",
		"commit_timestamp": "2024-05-01T10:00:00Z",
		"type": "UPDATE",
		"record": {"id": 3, "title": "after"},
		"old_record": {"id": 3},
		"errors": null
	}`), &raw))

	c, err := decodeChange[post](raw)
	require.NoError(t, err)

	assert.Equal(t, ChangeUpdate, c.Type)
	assert.Equal(t, "public", c.Schema)
	assert.Equal(t, post{ID: 3, Title: "after"}, c.New)
	assert.Equal(t, post{ID: 3}, c.Old)
	assert.True(t, c.CommitTimestamp.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeChange_NullRecordsAndMaps(t *testing.T) {
	raw := RawChange{
		Type:      ChangeDelete,
		Record:    json.RawMessage(`null`),
		OldRecord: json.RawMessage(`{"id":7,"tags":["a"]}`),
	}

	c, err := decodeChange[map[string]any](raw)
	require.NoError(t, err)

	assert.Nil(t, c.New)
	assert.Equal(t, float64(7), c.Old["id"])
	assert.True(t, c.CommitTimestamp.IsZero())
}

func TestDecodeChange_Malformed(t *testing.T) {
	_, err := decodeChange[post](RawChange{
		Schema: "public",
		Table:  "posts",
		Type:   ChangeInsert,
		Record: json.RawMessage(`{"id":"x"}`),
	})
	assert.ErrorContains(t, err, "INSERT record of public.posts")
}
