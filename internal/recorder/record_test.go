package recorder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgw/internal/store"
)

type fakeEnqueuer struct {
	records []*store.Record
}

func (f *fakeEnqueuer) Enqueue(r *store.Record) { f.records = append(f.records, r) }

func TestRecordOpenAIChat(t *testing.T) {
	fe := &fakeEnqueuer{}
	r := New(fe)

	req := []byte(`{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`)
	resp := []byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"hello"}}]}`)

	r.RecordOpenAIChat(Observation{
		SourceProvider: "api.deepseek.com",
		AuthScheme:     "openai",
		Model:          "deepseek-chat",
		RawRequest:     req,
		RawResponse:    resp,
	})

	require.Len(t, fe.records, 1)
	rec := fe.records[0]
	assert.Equal(t, "api.deepseek.com", rec.SourceProvider)

	var turns []Turn
	require.NoError(t, json.Unmarshal([]byte(rec.Conversations), &turns))
	require.Len(t, turns, 2)
	assert.Equal(t, "human", turns[0].From)
	assert.Equal(t, "hi", turns[0].Value)
	assert.Equal(t, "gpt", turns[1].From)
	assert.Equal(t, "hello", turns[1].Value)
}

func TestRecordOpenAIChat_ToolCalls(t *testing.T) {
	fe := &fakeEnqueuer{}
	r := New(fe)

	req := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"weather?"}],"tools":[{"type":"function","function":{"name":"get_weather"}}]}`)
	resp := []byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[{"function":{"name":"get_weather","arguments":"{\"city\":\"nyc\"}"}}]}}]}`)

	r.RecordOpenAIChat(Observation{Model: "gpt-4", RawRequest: req, RawResponse: resp})

	require.Len(t, fe.records, 1)
	rec := fe.records[0]

	var calls []ToolCallRecord
	require.NoError(t, json.Unmarshal([]byte(rec.ToolCalls), &calls))
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"city":"nyc"}`, calls[0].Arguments)
	assert.NotEqual(t, "", rec.Tools)
}

func TestRecordAnthropicMessages(t *testing.T) {
	fe := &fakeEnqueuer{}
	r := New(fe)

	req := []byte(`{"model":"claude-3-opus","system":"be terse","messages":[{"role":"user","content":"hi"}]}`)
	resp := []byte(`{"role":"assistant","content":[{"type":"text","text":"hello"}]}`)

	r.RecordAnthropicMessages(Observation{Model: "claude-3-opus", RawRequest: req, RawResponse: resp})

	require.Len(t, fe.records, 1)
	var turns []Turn
	require.NoError(t, json.Unmarshal([]byte(fe.records[0].Conversations), &turns))
	require.Len(t, turns, 3)
	assert.Equal(t, "system", turns[0].From)
	assert.Equal(t, "human", turns[1].From)
	assert.Equal(t, "gpt", turns[2].From)
	assert.Equal(t, "hello", turns[2].Value)
}

func TestRecordNonChat_EmptyConversations(t *testing.T) {
	fe := &fakeEnqueuer{}
	r := New(fe)

	r.RecordNonChat(Observation{Model: "text-embedding-3-small", RawRequest: []byte(`{}`), RawResponse: []byte(`{}`)})

	require.Len(t, fe.records, 1)
	assert.Equal(t, "[]", fe.records[0].Conversations)
}
