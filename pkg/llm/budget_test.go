package llm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBudget(t *testing.T, now func() time.Time) *Budget {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewBudget(client, now)
}

func TestBudget_AccumulatesWithinSameDay(t *testing.T) {
	clock := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	budget := newTestBudget(t, func() time.Time { return clock })
	ctx := context.Background()

	total, err := budget.Add(ctx, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1.5 {
		t.Fatalf("total = %v, want 1.5", total)
	}

	total, err = budget.Add(ctx, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4.0 {
		t.Fatalf("total = %v, want 4.0", total)
	}

	spent, err := budget.Spent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 4.0 {
		t.Fatalf("Spent() = %v, want 4.0", spent)
	}
}

func TestBudget_RollsOverAtUTCMidnight(t *testing.T) {
	clock := time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)
	budget := newTestBudget(t, func() time.Time { return clock })
	ctx := context.Background()

	if _, err := budget.Add(ctx, 9.0); err != nil {
		t.Fatal(err)
	}

	clock = time.Date(2026, 8, 1, 0, 30, 0, 0, time.UTC)
	spent, err := budget.Spent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if spent != 0 {
		t.Fatalf("Spent() after rollover = %v, want 0", spent)
	}
}

func TestEstimateCostUSD(t *testing.T) {
	cost := EstimateCostUSD(Usage{InputTokens: 1000, OutputTokens: 2000}, 0.003, 0.015)
	want := 0.003 + 0.030
	if cost != want {
		t.Fatalf("cost = %v, want %v", cost, want)
	}
}
