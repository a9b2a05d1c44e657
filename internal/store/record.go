package store

import "time"

// Record is the canonical chat-log record the recorder builds and the
// writer persists, pre-serialized into the interactions table's TEXT
// columns (spec.md §3, §4.7).
type Record struct {
	CreatedAt      time.Time
	Model          string
	SourceProvider string
	AuthScheme     string
	Conversations  string // JSON array of {from,value,[loss]}
	Tools          string // JSON array, "" when the request declared none
	ToolCalls      string // JSON array of {name,arguments}
	RawRequest     string
	RawResponse    string
	Truncated      bool
}

func (r *Record) toRow() Interaction {
	truncated := 0
	if r.Truncated {
		truncated = 1
	}
	return Interaction{
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339Nano),
		Model:          r.Model,
		SourceProvider: r.SourceProvider,
		AuthScheme:     r.AuthScheme,
		Conversations:  r.Conversations,
		Tools:          r.Tools,
		ToolCalls:      r.ToolCalls,
		RawRequest:     r.RawRequest,
		RawResponse:    r.RawResponse,
		Truncated:      truncated,
	}
}
