// Package memory persists long-term memories and recent chat history,
// and retrieves memories by semantic similarity under a token budget.
package memory

import "time"

// MemoryEntry is one persisted memory record.
//
// Score is transient: it carries the similarity of the entry to the
// current query and is populated only on entries returned by Search.
// ImportanceScore is the persisted curation weight and is never
// overwritten by retrieval.
type MemoryEntry struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	GuildID         string    `json:"guild_id"`
	ChannelID       string    `json:"channel_id"`
	Username        string    `json:"username,omitempty"`
	Content         string    `json:"content"`
	ContentType     string    `json:"content_type"`
	ImportanceScore float64   `json:"importance_score"`
	Tags            string    `json:"tags"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	LastAccessed    time.Time `json:"last_accessed"`
	Embedding       []float32 `json:"-"`

	Score float64 `json:"score,omitempty"`
}

// SearchOptions narrows a similarity search. Zero-value fields do not
// filter.
type SearchOptions struct {
	MaxResults int
	UserID     string
	GuildID    string
	ChannelID  string
	Tags       string
}

// ChatMessage is one line of recorded channel history.
type ChatMessage struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
