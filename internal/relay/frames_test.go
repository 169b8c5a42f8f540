package relay

import (
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEvent = `{"id":"9f1b6e0e7b1c4a3f9f1b6e0e7b1c4a3f9f1b6e0e7b1c4a3f9f1b6e0e7b1c4a3f","pubkey":"4c0f2a1b9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6c5d4e3f2a","created_at":1700000000,"kind":42,"tags":[["e","abcd","","root"]],"content":"hello","sig":"00"}`

func TestParseFrame_Classifies(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FrameType
	}{
		{"event", `["EVENT","sub1",` + testEvent + `]`, FrameEvent},
		{"eose", `["EOSE","sub1"]`, FrameEOSE},
		{"notice", `["NOTICE","rate limited"]`, FrameNotice},
		{"ok", `["OK","abcd",true,""]`, FrameOK},
		{"ok without reason", `["OK","abcd",false]`, FrameOK},
		{"unknown", `["FOO","bar"]`, FrameUnknown},
		{"auth is unknown here", `["AUTH","challenge"]`, FrameUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Type)
		})
	}
}

func TestParseFrame_Fields(t *testing.T) {
	f, err := ParseFrame([]byte(`["EVENT","sub1",` + testEvent + `]`))
	require.NoError(t, err)
	assert.Equal(t, "sub1", f.SubscriptionID)
	require.NotNil(t, f.Event)
	assert.Equal(t, "hello", f.Event.Content)
	assert.Equal(t, nostr.Timestamp(1700000000), f.Event.CreatedAt)
	assert.Equal(t, 42, f.Event.Kind)

	f, err = ParseFrame([]byte(`["OK","abcd",false,"blocked: spam"]`))
	require.NoError(t, err)
	assert.Equal(t, "abcd", f.EventID)
	assert.False(t, f.Accepted)
	assert.Equal(t, "blocked: spam", f.Message)

	f, err = ParseFrame([]byte(`["FOO"]`))
	require.NoError(t, err)
	assert.Equal(t, "FOO", f.Label)
	assert.Equal(t, "UNKNOWN", f.Type.String())
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"not json", `hello`},
		{"object", `{"EVENT":1}`},
		{"empty array", `[]`},
		{"numeric label", `[1,"x"]`},
		{"short event", `["EVENT","sub1"]`},
		{"event body not object", `["EVENT","sub1","nope"]`},
		{"event without id", `["EVENT","sub1",{"pubkey":"ab","content":"x"}]`},
		{"eose without id", `["EOSE"]`},
		{"notice without text", `["NOTICE"]`},
		{"ok status not bool", `["OK","abcd","yes"]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}

func TestReqFrame(t *testing.T) {
	filter := nostr.Filter{
		Kinds: []int{42},
		Tags:  nostr.TagMap{"e": []string{"abcd"}},
	}
	b, err := ReqFrame("sub1", filter)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(b, &parts))
	require.Len(t, parts, 3)
	assert.JSONEq(t, `"REQ"`, string(parts[0]))
	assert.JSONEq(t, `"sub1"`, string(parts[1]))

	var obj map[string]any
	require.NoError(t, json.Unmarshal(parts[2], &obj))
	assert.Equal(t, []any{float64(42)}, obj["kinds"])
	assert.Equal(t, []any{"abcd"}, obj["#e"])
}

func TestEventAndCloseFrames(t *testing.T) {
	evt := nostr.Event{Kind: 42, Content: "hi", Tags: nostr.Tags{}}
	b, err := EventFrame(evt)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(b, &parts))
	require.Len(t, parts, 2)
	assert.JSONEq(t, `"EVENT"`, string(parts[0]))

	b, err = CloseFrame("sub1")
	require.NoError(t, err)
	assert.JSONEq(t, `["CLOSE","sub1"]`, string(b))
}

func TestSubscriptionIDs_Unique(t *testing.T) {
	ids := NewSubscriptionIDs()
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := ids.Next()
		require.False(t, seen[id], "id %s reused", id)
		seen[id] = true
	}
	assert.Equal(t, 500, ids.Issued())
}
