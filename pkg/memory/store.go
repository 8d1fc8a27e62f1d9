package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avrelius/lorekeep/pkg/embedding"
	"github.com/avrelius/lorekeep/pkg/logger"
)

// SQLiteStore persists memory entries and chat history in one SQLite
// file. Embeddings are computed at save time and stored inline with the
// row, so search never re-embeds stored content.
type SQLiteStore struct {
	db       *sql.DB
	embedder embedding.Provider
}

func NewSQLiteStore(path string, embedder embedding.Provider) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, embedder: embedder}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL DEFAULT '',
			guild_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'message',
			importance_score REAL NOT NULL DEFAULT 0.5,
			tags TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL,
			last_accessed_ms INTEGER NOT NULL,
			embedding BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS memory_entries_scope_idx ON memory_entries(user_id, guild_id, enabled);`,
		`CREATE INDEX IF NOT EXISTS memory_entries_channel_idx ON memory_entries(guild_id, channel_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Save persists entry, computing its embedding first when the caller
// did not supply one. On success entry.ID holds the assigned row id.
func (s *SQLiteStore) Save(ctx context.Context, entry *MemoryEntry) error {
	if strings.TrimSpace(entry.Content) == "" {
		return fmt.Errorf("memory content is empty")
	}
	if entry.ContentType == "" {
		entry.ContentType = "message"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = entry.CreatedAt
	}
	if len(entry.Embedding) == 0 && s.embedder != nil {
		entry.Embedding = s.embedder.Embed(ctx, entry.Content)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries
			(user_id, guild_id, channel_id, username, content, content_type,
			 importance_score, tags, enabled, created_at_ms, last_accessed_ms, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.GuildID, entry.ChannelID, entry.Username, entry.Content,
		entry.ContentType, entry.ImportanceScore, entry.Tags, 1,
		entry.CreatedAt.UnixMilli(), entry.LastAccessed.UnixMilli(), encodeEmbedding(entry.Embedding))
	if err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("save memory id: %w", err)
	}
	entry.ID = id
	entry.Enabled = true
	return nil
}

// Search embeds the query once and ranks enabled entries in scope by
// cosine similarity, most similar first. The similarity lands in the
// transient Score field; rows without a stored embedding score 0.
func (s *SQLiteStore) Search(ctx context.Context, query string, opts SearchOptions) ([]MemoryEntry, error) {
	where := []string{"enabled = 1"}
	args := []any{}
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.GuildID != "" {
		where = append(where, "guild_id = ?")
		args = append(args, opts.GuildID)
	}
	if opts.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, opts.ChannelID)
	}
	if opts.Tags != "" {
		where = append(where, "tags LIKE ?")
		args = append(args, "%"+opts.Tags+"%")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, guild_id, channel_id, username, content, content_type,
		       importance_score, tags, enabled, created_at_ms, last_accessed_ms, embedding
		FROM memory_entries
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var queryVec []float32
	if s.embedder != nil {
		queryVec = s.embedder.Embed(ctx, query)
	}

	var entries []MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entry.Score = embedding.Cosine(queryVec, entry.Embedding)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	if opts.MaxResults > 0 && len(entries) > opts.MaxResults {
		entries = entries[:opts.MaxResults]
	}

	s.touch(ctx, entries)
	return entries, nil
}

// touch bumps last_accessed on the returned entries. Retrieval must not
// fail because bookkeeping did, so errors are logged and swallowed.
func (s *SQLiteStore) touch(ctx context.Context, entries []MemoryEntry) {
	now := time.Now().UnixMilli()
	for i := range entries {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE memory_entries SET last_accessed_ms = ? WHERE id = ?`,
			now, entries[i].ID); err != nil {
			logger.WarnCF("memory", "Failed to update last_accessed", map[string]any{
				"id":    entries[i].ID,
				"error": err.Error(),
			})
			continue
		}
		entries[i].LastAccessed = time.UnixMilli(now)
	}
}

// List returns the scope's enabled entries newest first, paginated.
func (s *SQLiteStore) List(ctx context.Context, userID, guildID string, limit, offset int) ([]MemoryEntry, error) {
	return s.list(ctx, userID, guildID, limit, offset, false)
}

// ListNotes is List minus raw dialogue rows. User-facing listings use
// it so chat history does not drown out the curated memories.
func (s *SQLiteStore) ListNotes(ctx context.Context, userID, guildID string, limit, offset int) ([]MemoryEntry, error) {
	return s.list(ctx, userID, guildID, limit, offset, true)
}

func (s *SQLiteStore) list(ctx context.Context, userID, guildID string, limit, offset int, excludeDialogue bool) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, user_id, guild_id, channel_id, username, content, content_type,
		       importance_score, tags, enabled, created_at_ms, last_accessed_ms, embedding
		FROM memory_entries
		WHERE enabled = 1 AND user_id = ? AND guild_id = ?`
	if excludeDialogue {
		query += ` AND content_type != 'message'`
	}
	query += `
		ORDER BY created_at_ms DESC
		LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, userID, guildID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes the entry only when id, userID and guildID all match,
// so one tenant cannot delete another tenant's memory by id. Returns
// whether a row was removed.
func (s *SQLiteStore) Delete(ctx context.Context, id int64, userID, guildID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE id = ? AND user_id = ? AND guild_id = ?`,
		id, userID, guildID)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return n > 0, nil
}

// Clear removes every entry in the (userID, guildID) scope and returns
// how many were removed.
func (s *SQLiteStore) Clear(ctx context.Context, userID, guildID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_entries WHERE user_id = ? AND guild_id = ?`,
		userID, guildID)
	if err != nil {
		return 0, fmt.Errorf("clear memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear memories: %w", err)
	}
	return n, nil
}

// AddMessage records one line of channel chatter as an ordinary
// message entry so it is available both to history replay and, once
// summarized, to semantic search.
func (s *SQLiteStore) AddMessage(ctx context.Context, guildID, channelID, userID, username, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	now := time.Now()
	var blob []byte
	if s.embedder != nil {
		blob = encodeEmbedding(s.embedder.Embed(ctx, content))
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries
			(user_id, guild_id, channel_id, username, content, content_type,
			 importance_score, tags, enabled, created_at_ms, last_accessed_ms, embedding)
		VALUES (?, ?, ?, ?, ?, 'message', 0.5, '', 1, ?, ?, ?)`,
		userID, guildID, channelID, username, content, now.UnixMilli(), now.UnixMilli(), blob)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages for the channel,
// newest first. History replay deliberately ignores the enabled flag:
// a message hidden from semantic search still happened in the
// conversation.
func (s *SQLiteStore) RecentMessages(ctx context.Context, guildID, channelID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, content, created_at_ms
		FROM memory_entries
		WHERE guild_id = ? AND channel_id = ? AND content_type = 'message'
		ORDER BY created_at_ms DESC, id DESC
		LIMIT ?`, guildID, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var createdMs int64
		if err := rows.Scan(&msg.UserID, &msg.Username, &msg.Content, &createdMs); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = time.UnixMilli(createdMs)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

func scanEntry(rows *sql.Rows) (MemoryEntry, error) {
	var entry MemoryEntry
	var enabled int
	var createdMs, accessedMs int64
	var blob []byte
	if err := rows.Scan(&entry.ID, &entry.UserID, &entry.GuildID, &entry.ChannelID,
		&entry.Username, &entry.Content, &entry.ContentType, &entry.ImportanceScore, &entry.Tags,
		&enabled, &createdMs, &accessedMs, &blob); err != nil {
		return MemoryEntry{}, fmt.Errorf("scan memory: %w", err)
	}
	entry.Enabled = enabled != 0
	entry.CreatedAt = time.UnixMilli(createdMs)
	entry.LastAccessed = time.UnixMilli(accessedMs)
	entry.Embedding = decodeEmbedding(blob)
	return entry, nil
}
