package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/c0deZ3R0/checklist-sync/snapshot"
	"github.com/c0deZ3R0/checklist-sync/telemetry"
)

// testConnectionString returns the database used for integration
// tests, or skips when none is configured.
func testConnectionString(t *testing.T) string {
	t.Helper()
	if connStr := os.Getenv("POSTGRES_TEST_CONNECTION"); connStr != "" {
		return connStr
	}
	t.Skip("POSTGRES_TEST_CONNECTION not set")
	return ""
}

func TestTableMapping(t *testing.T) {
	cases := []struct {
		collection snapshot.Collection
		table      string
		channel    string
	}{
		{snapshot.Tasks, "todos", "todos_changes"},
		{snapshot.Categories, "categories", "categories_changes"},
		{snapshot.Boards, "mindmaps", "mindmaps_changes"},
	}
	for _, tc := range cases {
		if got := tableFor(tc.collection); got != tc.table {
			t.Errorf("tableFor(%s) = %q, want %q", tc.collection, got, tc.table)
		}
		if got := channelFor(tc.collection); got != tc.channel {
			t.Errorf("channelFor(%s) = %q, want %q", tc.collection, got, tc.channel)
		}
	}
}

func TestMaskConnectionString(t *testing.T) {
	masked := maskConnectionString("host=localhost password=hunter2 dbname=app")
	if masked != "host=localhost password=*** dbname=app" {
		t.Errorf("password not masked: %q", masked)
	}

	url := "postgres://user@localhost/app?sslmode=disable"
	if got := maskConnectionString(url); got != url {
		t.Errorf("URL form mangled: %q", got)
	}
}

func TestUserStatsAggregation(t *testing.T) {
	store, err := New(DefaultConfig(testConnectionString(t)))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	userID := "stats-test-" + snapshot.NewID()
	t.Cleanup(func() {
		store.db.Exec(`DELETE FROM analytics_events WHERE user_id = $1`, userID)
	})

	base := time.Now().UTC().Truncate(time.Second)
	events := []telemetry.Event{
		{Name: "page_view", UserID: userID, At: base},
		{Name: "page_view", UserID: userID, At: base.Add(time.Second)},
		{Name: "task_created", UserID: userID, At: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	stats, err := store.UserStats(ctx, userID)
	if err != nil {
		t.Fatalf("UserStats failed: %v", err)
	}
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.ByEvent["page_view"] != 2 || stats.ByEvent["task_created"] != 1 {
		t.Errorf("ByEvent = %v", stats.ByEvent)
	}
	if stats.LastEventAt.Before(base.Add(2 * time.Second)) {
		t.Errorf("LastEventAt = %v, want >= %v", stats.LastEventAt, base.Add(2*time.Second))
	}

	// A user with no events gets an empty, non-nil aggregate.
	empty, err := store.UserStats(ctx, "stats-test-nobody")
	if err != nil {
		t.Fatalf("UserStats failed: %v", err)
	}
	if empty.TotalEvents != 0 || len(empty.ByEvent) != 0 {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error for missing connection string")
	}
}
