package compat

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
)

// mockLists implements ListReader from an in-memory map.
type mockLists struct {
	lists map[string]map[ranking.Category][]ranking.Item
	// errors maps "user:category" to errors
	errors map[string]error
	calls  atomic.Int32
}

func newMockLists() *mockLists {
	return &mockLists{
		lists:  make(map[string]map[ranking.Category][]ranking.Item),
		errors: make(map[string]error),
	}
}

func (m *mockLists) set(userID string, category ranking.Category, ids ...string) {
	if m.lists[userID] == nil {
		m.lists[userID] = make(map[ranking.Category][]ranking.Item)
	}
	items := make([]ranking.Item, len(ids))
	for i, id := range ids {
		items[i] = ranking.Item{ID: id, Name: "name-" + id, Rank: i + 1}
	}
	m.lists[userID][category] = items
}

func (m *mockLists) RankedList(ctx context.Context, userID string, category ranking.Category) ([]ranking.Item, error) {
	m.calls.Add(1)
	if err, ok := m.errors[userID+":"+string(category)]; ok {
		return nil, err
	}
	return m.lists[userID][category], nil
}

// mockStore implements Store in memory.
type mockStore struct {
	mu          sync.Mutex
	records     map[[2]string]*db.Compatibility
	readErr     error
	upsertErr   error
	upsertCalls atomic.Int32
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[[2]string]*db.Compatibility)}
}

func (m *mockStore) Read(ctx context.Context, userID1, userID2 string) (*db.Compatibility, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[[2]string{userID1, userID2}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return rec, nil
}

func (m *mockStore) Upsert(ctx context.Context, rec *db.Compatibility) error {
	m.upsertCalls.Add(1)
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if rec.UserID1 >= rec.UserID2 {
		return errors.New("unordered pair")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[[2]string{rec.UserID1, rec.UserID2}] = rec
	return nil
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(lists *mockLists, store *mockStore) *Engine {
	return New(lists, store, WithClock(func() time.Time { return testNow }))
}

func TestWeightsSumToOne(t *testing.T) {
	if sum := TrackWeight + ArtistWeight + GenreWeight; math.Abs(sum-1) > 1e-12 {
		t.Errorf("weights sum to %v, want 1", sum)
	}
	if got := Combine(100, 100, 100); math.Abs(got-100) > 1e-9 {
		t.Errorf("Combine(100, 100, 100) = %v, want 100", got)
	}
	if got := Combine(0, 100, 0); math.Abs(got-40) > 1e-9 {
		t.Errorf("Combine(0, 100, 0) = %v, want 40", got)
	}
}

func TestPairKey(t *testing.T) {
	tests := []struct{ a, b string }{
		{"alice", "bob"},
		{"bob", "alice"},
		{"user-2", "user-10"},
	}

	for _, tt := range tests {
		id1, id2 := PairKey(tt.a, tt.b)
		r1, r2 := PairKey(tt.b, tt.a)
		if id1 != r1 || id2 != r2 {
			t.Errorf("PairKey(%q, %q) = (%q, %q) but reversed = (%q, %q)", tt.a, tt.b, id1, id2, r1, r2)
		}
		if id1 > id2 {
			t.Errorf("PairKey(%q, %q) = (%q, %q), not ordered", tt.a, tt.b, id1, id2)
		}
	}
}

func TestGetOrComputeSymmetric(t *testing.T) {
	lists := newMockLists()
	lists.set("alice", ranking.CategoryTracks, "t1", "t2")
	lists.set("bob", ranking.CategoryTracks, "t2", "t1")
	store := newMockStore()
	engine := newTestEngine(lists, store)
	ctx := context.Background()

	ab, err := engine.GetOrCompute(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("GetOrCompute(bob, alice) error = %v", err)
	}
	ba, err := engine.GetOrCompute(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCompute(alice, bob) error = %v", err)
	}

	if ab != ba {
		t.Error("(bob, alice) and (alice, bob) resolved to different records")
	}
	if ab.UserID1 != "alice" || ab.UserID2 != "bob" {
		t.Errorf("key = (%q, %q), want (alice, bob)", ab.UserID1, ab.UserID2)
	}
	if got := store.upsertCalls.Load(); got != 1 {
		t.Errorf("Upsert calls = %d, want 1", got)
	}
}

func TestGetOrComputeScores(t *testing.T) {
	lists := newMockLists()
	// Tracks: Scenario A, score 50.
	lists.set("alice", ranking.CategoryTracks, "t1", "t2")
	lists.set("bob", ranking.CategoryTracks, "t2", "t1")
	// Artists: identical, score 100.
	lists.set("alice", ranking.CategoryArtists, "a1", "a2", "a3")
	lists.set("bob", ranking.CategoryArtists, "a1", "a2", "a3")
	// Genres: disjoint, score 0.
	lists.set("alice", ranking.CategoryGenres, "rock")
	lists.set("bob", ranking.CategoryGenres, "jazz")

	engine := newTestEngine(lists, newMockStore())

	rec, err := engine.GetOrCompute(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}

	want := 0.3*50 + 0.4*100 + 0.3*0
	if math.Abs(rec.Score-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", rec.Score, want)
	}
	if len(rec.SharedTracks) != 2 || len(rec.SharedArtists) != 3 {
		t.Errorf("shared tracks/artists = %d/%d, want 2/3", len(rec.SharedTracks), len(rec.SharedArtists))
	}
	if rec.SharedGenres == nil || len(rec.SharedGenres) != 0 {
		t.Errorf("SharedGenres = %v, want empty slice", rec.SharedGenres)
	}
	if rec.SharedTracks[0].ID != "t1" || rec.SharedTracks[0].YourRank != 1 || rec.SharedTracks[0].TheirRank != 2 {
		t.Errorf("SharedTracks[0] = %+v", rec.SharedTracks[0])
	}
	if !rec.LastUpdated.Equal(testNow) {
		t.Errorf("LastUpdated = %v, want %v", rec.LastUpdated, testNow)
	}
}

func TestGetOrComputeReturnsStoredUnconditionally(t *testing.T) {
	lists := newMockLists()
	store := newMockStore()
	stored := &db.Compatibility{
		UserID1:     "alice",
		UserID2:     "bob",
		Score:       42,
		LastUpdated: testNow.AddDate(-1, 0, 0),
	}
	store.records[[2]string{"alice", "bob"}] = stored
	engine := newTestEngine(lists, store)

	rec, err := engine.GetOrCompute(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if rec != stored {
		t.Errorf("got %+v, want stored record", rec)
	}
	if got := lists.calls.Load(); got != 0 {
		t.Errorf("RankedList calls = %d, want 0", got)
	}
}

func TestRecomputeReplacesStored(t *testing.T) {
	lists := newMockLists()
	lists.set("alice", ranking.CategoryArtists, "a1")
	lists.set("bob", ranking.CategoryArtists, "a1")
	store := newMockStore()
	store.records[[2]string{"alice", "bob"}] = &db.Compatibility{UserID1: "alice", UserID2: "bob", Score: 1}
	engine := newTestEngine(lists, store)

	rec, err := engine.Recompute(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	if math.Abs(rec.Score-40) > 1e-9 {
		t.Errorf("Score = %v, want 40", rec.Score)
	}

	got, _ := engine.Get(context.Background(), "bob", "alice")
	if got != rec {
		t.Error("stored record not replaced")
	}
}

func TestListFailureWritesNothing(t *testing.T) {
	lists := newMockLists()
	lists.set("alice", ranking.CategoryTracks, "t1")
	lists.set("bob", ranking.CategoryTracks, "t1")
	lists.errors["bob:genres"] = errors.New("connection reset")
	store := newMockStore()
	engine := newTestEngine(lists, store)

	_, err := engine.GetOrCompute(context.Background(), "alice", "bob")
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("GetOrCompute() error = %v, want ErrPersist", err)
	}
	if got := store.upsertCalls.Load(); got != 0 {
		t.Errorf("Upsert calls = %d, want 0", got)
	}
}

func TestStoreFailures(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		lists := newMockLists()
		store := newMockStore()
		store.readErr = errors.New("timeout")
		engine := newTestEngine(lists, store)

		_, err := engine.GetOrCompute(context.Background(), "alice", "bob")
		if !errors.Is(err, ErrPersist) {
			t.Fatalf("error = %v, want ErrPersist", err)
		}
		if got := lists.calls.Load(); got != 0 {
			t.Errorf("RankedList calls = %d, want 0", got)
		}
	})

	t.Run("upsert", func(t *testing.T) {
		store := newMockStore()
		store.upsertErr = errors.New("disk full")
		engine := newTestEngine(newMockLists(), store)

		_, err := engine.GetOrCompute(context.Background(), "alice", "bob")
		if !errors.Is(err, ErrPersist) {
			t.Fatalf("error = %v, want ErrPersist", err)
		}
	})
}

func TestSameUser(t *testing.T) {
	engine := newTestEngine(newMockLists(), newMockStore())
	ctx := context.Background()

	if _, err := engine.GetOrCompute(ctx, "alice", "alice"); !errors.Is(err, ErrSameUser) {
		t.Errorf("GetOrCompute() error = %v, want ErrSameUser", err)
	}
	if _, err := engine.Recompute(ctx, "alice", "alice"); !errors.Is(err, ErrSameUser) {
		t.Errorf("Recompute() error = %v, want ErrSameUser", err)
	}
}

func TestGetNotFound(t *testing.T) {
	engine := newTestEngine(newMockLists(), newMockStore())

	if _, err := engine.Get(context.Background(), "alice", "bob"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestEmptyListsScoreZero(t *testing.T) {
	engine := newTestEngine(newMockLists(), newMockStore())

	rec, err := engine.GetOrCompute(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if rec.Score != 0 {
		t.Errorf("Score = %v, want 0", rec.Score)
	}
}

func TestViewFor(t *testing.T) {
	rec := &db.Compatibility{
		UserID1:      "alice",
		UserID2:      "bob",
		Score:        50,
		SharedTracks: []ranking.SharedItem{{ID: "t1", YourRank: 1, TheirRank: 4}},
	}

	alice := ViewFor(rec, "alice")
	if alice.UserID != "alice" || alice.SharedTracks[0].YourRank != 1 {
		t.Errorf("alice view = %+v", alice)
	}

	bob := ViewFor(rec, "bob")
	if bob.UserID != "bob" || bob.OtherUserID != "alice" {
		t.Errorf("bob view ids = %q/%q", bob.UserID, bob.OtherUserID)
	}
	if bob.SharedTracks[0].YourRank != 4 || bob.SharedTracks[0].TheirRank != 1 {
		t.Errorf("bob SharedTracks[0] = %+v, want ranks swapped", bob.SharedTracks[0])
	}
	if rec.SharedTracks[0].YourRank != 1 {
		t.Error("ViewFor modified the stored record")
	}
}

func TestViewForOrdersByViewerRank(t *testing.T) {
	aliceArtists := []ranking.Item{{ID: "a1", Rank: 1}, {ID: "a2", Rank: 2}, {ID: "a3", Rank: 3}}
	bobArtists := []ranking.Item{{ID: "a3", Rank: 1}, {ID: "a1", Rank: 2}, {ID: "a2", Rank: 3}}

	rec := &db.Compatibility{
		UserID1:       "alice",
		UserID2:       "bob",
		SharedArtists: ranking.Compare(aliceArtists, bobArtists).Shared,
	}
	want := ranking.Compare(bobArtists, aliceArtists).Shared

	tests := []struct {
		viewer string
		want   []ranking.SharedItem
	}{
		{viewer: "alice", want: rec.SharedArtists},
		{viewer: "bob", want: want},
	}

	for _, tt := range tests {
		t.Run(tt.viewer, func(t *testing.T) {
			got := ViewFor(rec, tt.viewer).SharedArtists
			if !slices.Equal(got, tt.want) {
				t.Errorf("SharedArtists = %+v, want %+v", got, tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].YourRank > got[i].YourRank {
					t.Errorf("SharedArtists not ordered by YourRank: %+v", got)
				}
			}
		})
	}

	if rec.SharedArtists[0].ID != "a1" {
		t.Error("ViewFor reordered the stored record")
	}
}
