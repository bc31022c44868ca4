package analytics

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventSearch      EventType = "search"
	EventCacheHit    EventType = "cache_hit"
	EventCacheMiss   EventType = "cache_miss"
	EventZeroResult  EventType = "zero_result"
	EventSearchError EventType = "search_error"
	EventIndexBuild  EventType = "index_build"
)

// SearchEvent is emitted for every query the search service answers.
type SearchEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query"`
	Tokens     int       `json:"tokens"`
	TotalHits  int       `json:"total_hits"`
	Returned   int       `json:"returned"`
	LatencyMs  int64     `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id,omitempty"`
}

// BuildEvent is published on the index-complete topic after a generation is
// swapped in.
type BuildEvent struct {
	Type       EventType `json:"type"`
	Generation uint64    `json:"generation"`
	Namespace  string    `json:"namespace"`
	Source     string    `json:"source"`
	Documents  int       `json:"documents"`
	Terms      int       `json:"terms"`
	Postings   int       `json:"postings"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decode inspects the type field of a serialized event and returns a
// SearchEvent or BuildEvent.
func Decode(value []byte) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return nil, fmt.Errorf("decoding event header: %w", err)
	}
	switch head.Type {
	case EventSearch, EventCacheHit, EventCacheMiss, EventZeroResult, EventSearchError:
		var e SearchEvent
		if err := json.Unmarshal(value, &e); err != nil {
			return nil, fmt.Errorf("decoding search event: %w", err)
		}
		return e, nil
	case EventIndexBuild:
		var e BuildEvent
		if err := json.Unmarshal(value, &e); err != nil {
			return nil, fmt.Errorf("decoding build event: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
}
