package store

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MGallo-Code/argus/internal/model"
)

func cleanupPresence(t *testing.T, recipients []string, senders ...string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		for _, r := range recipients {
			testRDB.Del(ctx, TelemetryKey(r))
		}
		for _, s := range senders {
			testRDB.ZRem(ctx, LastSeenKey, s)
			testRDB.HDel(ctx, NannyRetryKey, s)
		}
	})
}

// --- StoreTelemetry + Telemetry ---

func TestStoreAndGetTelemetry(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()
	cleanupPresence(t, []string{"rt_bob"}, "rt_alice")

	level := 0.8
	first := model.Telemetry{Data: "enc-1", Timestamp: "2026-01-01T00:00:00.000Z",
		BatteryState: &model.BatteryState{BatteryLevel: &level}}
	second := model.Telemetry{Data: "enc-2", Timestamp: "2026-01-01T00:00:00.000Z"}

	t.Run("round-trip", func(t *testing.T) {
		if err := testRedis.StoreTelemetry(ctx, "rt_bob", "rt_alice", first, time.Now()); err != nil {
			t.Fatalf("StoreTelemetry: %v", err)
		}
		got, err := testRedis.Telemetry(ctx, "rt_bob", "rt_alice")
		if err != nil {
			t.Fatalf("Telemetry: %v", err)
		}
		if got.Data != "enc-1" || got.BatteryState == nil || *got.BatteryState.BatteryLevel != 0.8 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("last write wins on equal timestamps", func(t *testing.T) {
		if err := testRedis.StoreTelemetry(ctx, "rt_bob", "rt_alice", second, time.Now()); err != nil {
			t.Fatalf("StoreTelemetry: %v", err)
		}
		got, err := testRedis.Telemetry(ctx, "rt_bob", "rt_alice")
		if err != nil {
			t.Fatalf("Telemetry: %v", err)
		}
		if got.Data != "enc-2" {
			t.Errorf("expected enc-2, got %q", got.Data)
		}
	})

	t.Run("miss returns ErrCacheMiss", func(t *testing.T) {
		_, err := testRedis.Telemetry(ctx, "rt_bob", "rt_nobody")
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
	})
}

// --- Presence markers ---

func TestStaleUsers(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()
	cleanupPresence(t, []string{"rt_viewer"}, "rt_fresh", "rt_stale", "rt_gone")

	now := time.Now()
	seen := map[string]time.Time{
		"rt_fresh": now.Add(-2 * time.Minute),
		"rt_stale": now.Add(-30 * time.Minute),
		"rt_gone":  now.Add(-3 * time.Hour),
	}
	for user, at := range seen {
		if err := testRedis.StoreTelemetry(ctx, "rt_viewer", user, model.Telemetry{Data: "x"}, at); err != nil {
			t.Fatalf("StoreTelemetry: %v", err)
		}
	}

	t.Run("window selects only stale users", func(t *testing.T) {
		users, err := testRedis.StaleUsers(ctx, now.Add(-time.Hour), now.Add(-10*time.Minute))
		if err != nil {
			t.Fatalf("StaleUsers: %v", err)
		}
		if !slices.Contains(users, "rt_stale") {
			t.Errorf("expected rt_stale in %v", users)
		}
		if slices.Contains(users, "rt_fresh") || slices.Contains(users, "rt_gone") {
			t.Errorf("window leaked: %v", users)
		}
	})

	t.Run("bounds are inclusive", func(t *testing.T) {
		at := seen["rt_stale"]
		users, err := testRedis.StaleUsers(ctx, at, at)
		if err != nil {
			t.Fatalf("StaleUsers: %v", err)
		}
		if !slices.Contains(users, "rt_stale") {
			t.Errorf("expected rt_stale in %v", users)
		}
	})

	t.Run("last seen", func(t *testing.T) {
		got, err := testRedis.LastSeen(ctx, "rt_fresh")
		if err != nil {
			t.Fatalf("LastSeen: %v", err)
		}
		if got.Unix() != seen["rt_fresh"].Unix() {
			t.Errorf("expected %v, got %v", seen["rt_fresh"].Unix(), got.Unix())
		}
		if _, err := testRedis.LastSeen(ctx, "rt_nobody"); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
	})
}

// --- RecordRetry ---

func TestRecordRetry(t *testing.T) {
	requireRedis(t)
	ctx := context.Background()
	cleanupPresence(t, []string{"rt_watch"}, "rt_retry")

	for want := int64(1); want <= 2; want++ {
		n, err := testRedis.RecordRetry(ctx, "rt_retry")
		if err != nil {
			t.Fatalf("RecordRetry: %v", err)
		}
		if n != want {
			t.Errorf("expected %d, got %d", want, n)
		}
	}

	t.Run("telemetry write resets the count", func(t *testing.T) {
		if err := testRedis.StoreTelemetry(ctx, "rt_watch", "rt_retry", model.Telemetry{Data: "x"}, time.Now()); err != nil {
			t.Fatalf("StoreTelemetry: %v", err)
		}
		n, err := testRedis.RecordRetry(ctx, "rt_retry")
		if err != nil {
			t.Fatalf("RecordRetry: %v", err)
		}
		if n != 1 {
			t.Errorf("expected count to restart at 1, got %d", n)
		}
	})
}
