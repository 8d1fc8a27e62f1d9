package memory

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avrelius/lorekeep/pkg/embedding"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), embedding.NewLocalWithDimensions(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func saveEntry(t *testing.T, store *SQLiteStore, userID, guildID, content, contentType string) *MemoryEntry {
	t.Helper()
	entry := &MemoryEntry{
		UserID:      userID,
		GuildID:     guildID,
		Content:     content,
		ContentType: contentType,
	}
	require.NoError(t, store.Save(context.Background(), entry))
	return entry
}

func TestSaveAssignsIDAndEmbedding(t *testing.T) {
	store := newTestStore(t)
	entry := saveEntry(t, store, "u1", "g1", "The dragon fears fire", "fact")

	require.Greater(t, entry.ID, int64(0))
	require.NotEmpty(t, entry.Embedding)
	require.True(t, entry.Enabled)
}

func TestSaveRejectsEmptyContent(t *testing.T) {
	store := newTestStore(t)
	err := store.Save(context.Background(), &MemoryEntry{UserID: "u1", GuildID: "g1", Content: "   "})
	require.Error(t, err)
}

func TestSearchRanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	saveEntry(t, store, "u1", "g1", "The dragon fears fire magic", "fact")
	saveEntry(t, store, "u1", "g1", "The innkeeper waters down the ale", "fact")
	saveEntry(t, store, "u1", "g1", "Taxes in the port town doubled", "fact")

	results, err := store.Search(context.Background(), "dragon fire", SearchOptions{GuildID: "g1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	require.Contains(t, results[0].Content, "dragon")
	require.Greater(t, results[0].Score, 0.0)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchDoesNotTouchImportance(t *testing.T) {
	store := newTestStore(t)
	entry := &MemoryEntry{UserID: "u1", GuildID: "g1", Content: "dragon hoard location", ImportanceScore: 0.9}
	require.NoError(t, store.Save(context.Background(), entry))

	results, err := store.Search(context.Background(), "dragon", SearchOptions{GuildID: "g1"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Similarity lands in Score; the persisted weight stays intact.
	require.Equal(t, 0.9, results[0].ImportanceScore)
	require.NotEqual(t, results[0].ImportanceScore, results[0].Score)
}

func TestSearchExcludesDisabled(t *testing.T) {
	store := newTestStore(t)
	entry := saveEntry(t, store, "u1", "g1", "the secret door behind the altar", "fact")

	_, err := store.db.Exec(`UPDATE memory_entries SET enabled = 0 WHERE id = ?`, entry.ID)
	require.NoError(t, err)

	results, err := store.Search(context.Background(), "secret door", SearchOptions{GuildID: "g1"})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchScopesAndLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		saveEntry(t, store, "u1", "g1", "goblin ambush on the north road", "fact")
	}
	saveEntry(t, store, "u1", "g2", "goblin ambush elsewhere", "fact")

	results, err := store.Search(context.Background(), "goblin", SearchOptions{GuildID: "g1", MaxResults: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, "g1", r.GuildID)
	}
}

func TestSearchTagFilter(t *testing.T) {
	store := newTestStore(t)
	tagged := &MemoryEntry{UserID: "u1", GuildID: "g1", Content: "session one recap", ContentType: "summary", Tags: "summary"}
	require.NoError(t, store.Save(context.Background(), tagged))
	saveEntry(t, store, "u1", "g1", "session one recap untagged", "fact")

	results, err := store.Search(context.Background(), "recap", SearchOptions{GuildID: "g1", Tags: "summary"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, tagged.ID, results[0].ID)
}

func TestSearchTouchesLastAccessed(t *testing.T) {
	store := newTestStore(t)
	entry := saveEntry(t, store, "u1", "g1", "the wizard's true name", "fact")
	before := entry.LastAccessed

	_, err := store.Search(context.Background(), "wizard", SearchOptions{GuildID: "g1"})
	require.NoError(t, err)

	listed, err := store.List(context.Background(), "u1", "g1", 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.False(t, listed[0].LastAccessed.Before(before))
}

func TestListIncludesDialogueRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveEntry(t, store, "u1", "g1", "the dragon fears fire", "fact")
	require.NoError(t, store.AddMessage(ctx, "g1", "c1", "u1", "Ana", "table talk"))

	entries, err := store.List(ctx, "u1", "g1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	notes, err := store.ListNotes(ctx, "u1", "g1", 10, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, "fact", notes[0].ContentType)
}

func TestDeleteRequiresMatchingScope(t *testing.T) {
	store := newTestStore(t)
	entry := saveEntry(t, store, "u1", "g1", "a memory worth keeping", "fact")

	removed, err := store.Delete(context.Background(), entry.ID, "someone-else", "g1")
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = store.Delete(context.Background(), entry.ID, "u1", "other-guild")
	require.NoError(t, err)
	require.False(t, removed)

	listed, err := store.List(context.Background(), "u1", "g1", 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	removed, err = store.Delete(context.Background(), entry.ID, "u1", "g1")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestClearRemovesOnlyScope(t *testing.T) {
	store := newTestStore(t)
	saveEntry(t, store, "u1", "g1", "first", "fact")
	saveEntry(t, store, "u1", "g1", "second", "fact")
	saveEntry(t, store, "u2", "g1", "someone else's", "fact")

	n, err := store.Clear(context.Background(), "u1", "g1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	left, err := store.List(context.Background(), "u2", "g1", 10, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestDeleteAndClearNeverCrossScopes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	users := []string{"u1", "u2", "u3"}
	guilds := []string{"g1", "g2", "g3"}

	type saved struct {
		id   int64
		u, g string
	}
	count := map[[2]string]int64{}
	var rows []saved
	for i := 0; i < 40; i++ {
		u := users[rng.Intn(len(users))]
		g := guilds[rng.Intn(len(guilds))]
		entry := saveEntry(t, store, u, g, fmt.Sprintf("fact number %d", i), "fact")
		count[[2]string{u, g}]++
		rows = append(rows, saved{id: entry.ID, u: u, g: g})
	}

	// Deletes with a mismatched scope tuple remove nothing.
	for i := 0; i < 30; i++ {
		target := rows[rng.Intn(len(rows))]
		u := users[rng.Intn(len(users))]
		g := guilds[rng.Intn(len(guilds))]
		if u == target.u && g == target.g {
			continue
		}
		removed, err := store.Delete(ctx, target.id, u, g)
		require.NoError(t, err)
		require.False(t, removed)
	}

	// Clearing one scope removes exactly its rows and nothing else.
	n, err := store.Clear(ctx, "u2", "g1")
	require.NoError(t, err)
	require.Equal(t, count[[2]string{"u2", "g1"}], n)
	delete(count, [2]string{"u2", "g1"})

	for scope, want := range count {
		left, err := store.List(ctx, scope[0], scope[1], 100, 0)
		require.NoError(t, err)
		require.EqualValues(t, want, len(left))
	}
}

func TestRecentMessagesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddMessage(ctx, "g1", "c1", "u1", "Ana", "first line"))
	require.NoError(t, store.AddMessage(ctx, "g1", "c1", "u2", "Brook", "second line"))
	require.NoError(t, store.AddMessage(ctx, "g1", "c1", "u1", "Ana", "third line"))
	require.NoError(t, store.AddMessage(ctx, "g1", "c2", "u1", "Ana", "other channel"))

	msgs, err := store.RecentMessages(ctx, "g1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "third line", msgs[0].Content)
	require.Equal(t, "first line", msgs[2].Content)

	// The limit keeps the newest.
	msgs, err = store.RecentMessages(ctx, "g1", "c1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "third line", msgs[0].Content)
	require.Equal(t, "second line", msgs[1].Content)
}

func TestRecentMessagesIgnoresEnabledFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddMessage(ctx, "g1", "c1", "u1", "Ana", "hidden from search"))

	_, err := store.db.Exec(`UPDATE memory_entries SET enabled = 0`)
	require.NoError(t, err)

	msgs, err := store.RecentMessages(ctx, "g1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
