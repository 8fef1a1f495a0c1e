package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/caps"
	"github.com/nanobill/nanobill/internal/clock"
	"github.com/nanobill/nanobill/internal/feed"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/session"
	"github.com/nanobill/nanobill/internal/storage/memory"
)

func newTestEngine(t *testing.T, autoStop bool) (*Engine, *clock.TestClock, *memory.Ledger, *feed.Hub) {
	t.Helper()

	clk := clock.NewTestClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := session.NewStore(clk, zerolog.Nop())
	ledger := memory.Open()
	t.Cleanup(func() { ledger.Close() })

	hub, err := feed.NewHub(64, 64, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(hub.Close)

	enforcer := caps.NewEnforcer(ledger, autoStop, zerolog.Nop())
	return New(store, enforcer, hub, ledger, clk, 100*time.Millisecond, zerolog.Nop()), clk, ledger, hub
}

func amt(s string) *money.Amount {
	a := money.MustParse(s)
	return &a
}

func hourly(t *testing.T, e *Engine, payer, rate string, sessionCap, universalCap *money.Amount) session.Session {
	t.Helper()

	sess, err := e.StartSession(context.Background(), StartParams{
		PayerID:      payer,
		ServiceCost:  money.MustParse(rate),
		TimeUnit:     billing.UnitHour,
		Currency:     "USD",
		SessionCap:   sessionCap,
		UniversalCap: universalCap,
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return sess
}

func TestStartSessionPreflightRejection(t *testing.T) {
	// Session cap 25 against universal cap 50 with 30 already spent must be
	// rejected before any session exists.
	e, _, ledger, _ := newTestEngine(t, true)
	ctx := context.Background()

	if _, err := ledger.AddSpend(ctx, "payer-1", money.MustParse("30")); err != nil {
		t.Fatalf("AddSpend failed: %v", err)
	}

	_, err := e.StartSession(ctx, StartParams{
		PayerID:      "payer-1",
		ServiceCost:  money.MustParse("3600"),
		TimeUnit:     billing.UnitHour,
		Currency:     "USD",
		SessionCap:   amt("25"),
		UniversalCap: amt("50"),
	})
	if !errors.Is(err, caps.ErrCapConflict) {
		t.Fatalf("got %v, want ErrCapConflict", err)
	}
	if got := len(e.store.ListActive()); got != 0 {
		t.Errorf("active sessions after rejection = %d, want 0", got)
	}
}

func TestRejectedStartLeavesLedgerCapUnchanged(t *testing.T) {
	// A rejected start must leave all cap state as it was, including the
	// persisted universal cap the rejected request tried to replace.
	e, _, ledger, _ := newTestEngine(t, true)
	ctx := context.Background()

	if err := ledger.SetUniversalCap(ctx, "payer-1", money.MustParse("100")); err != nil {
		t.Fatalf("SetUniversalCap failed: %v", err)
	}
	if _, err := ledger.AddSpend(ctx, "payer-1", money.MustParse("30")); err != nil {
		t.Fatalf("AddSpend failed: %v", err)
	}

	_, err := e.StartSession(ctx, StartParams{
		PayerID:      "payer-1",
		ServiceCost:  money.MustParse("3600"),
		TimeUnit:     billing.UnitHour,
		Currency:     "USD",
		SessionCap:   amt("25"),
		UniversalCap: amt("50"),
	})
	if !errors.Is(err, caps.ErrCapConflict) {
		t.Fatalf("got %v, want ErrCapConflict", err)
	}

	stored, err := ledger.UniversalCap(ctx, "payer-1")
	if err != nil {
		t.Fatalf("UniversalCap failed: %v", err)
	}
	if stored == nil || stored.Cmp(money.MustParse("100")) != 0 {
		t.Errorf("universal cap after rejection = %v, want 100", stored)
	}
}

func TestTickAdvancesAndPublishes(t *testing.T) {
	e, clk, _, hub := newTestEngine(t, true)
	sess := hourly(t, e, "payer-1", "3600", nil, nil)

	ch := hub.Subscribe()
	clk.Advance(2 * time.Second)
	e.Tick(context.Background())

	select {
	case ev := <-ch:
		if ev.Session == nil || ev.Session.SessionID != sess.ID {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Session.Cost != "2" {
			t.Errorf("cost = %s, want 2", ev.Session.Cost)
		}
		if ev.Session.Elapsed != "0:00:02" {
			t.Errorf("elapsed = %s, want 0:00:02", ev.Session.Elapsed)
		}
		if ev.Session.CapStatus != string(caps.StatusWithinLimits) {
			t.Errorf("capStatus = %s", ev.Session.CapStatus)
		}
	default:
		t.Fatal("no update published")
	}
}

func TestAutoStopOnSessionCap(t *testing.T) {
	e, clk, ledger, _ := newTestEngine(t, true)
	sess := hourly(t, e, "payer-1", "3600", amt("10"), nil)

	// Under the cap: session survives the tick.
	clk.Advance(5 * time.Second)
	e.Tick(context.Background())
	if got := len(e.store.ListActive()); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}

	// Cap reached: the session is ended and its cost accrued.
	clk.Advance(5 * time.Second)
	e.Tick(context.Background())
	if got := len(e.store.ListActive()); got != 0 {
		t.Fatalf("active = %d, want 0", got)
	}

	got, err := e.store.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != session.StateEnded {
		t.Errorf("state = %s, want ended", got.State)
	}

	spent, err := ledger.LifetimeSpent(context.Background(), "payer-1")
	if err != nil {
		t.Fatalf("LifetimeSpent failed: %v", err)
	}
	if spent.Cmp(money.MustParse("10")) != 0 {
		t.Errorf("lifetime spent = %s, want 10", spent)
	}
}

func TestAutoStopPublishesBreachStatusOnly(t *testing.T) {
	// The tick that stops a session for a cap breach must not emit a
	// within-limits update alongside the breach one.
	e, clk, _, hub := newTestEngine(t, true)
	sess := hourly(t, e, "payer-1", "3600", amt("10"), nil)

	ch := hub.Subscribe()
	clk.Advance(10 * time.Second)
	e.Tick(context.Background())

	var got []feed.Update
	for {
		select {
		case ev := <-ch:
			if ev.Session != nil && ev.Session.SessionID == sess.ID {
				got = append(got, *ev.Session)
			}
			continue
		default:
		}
		break
	}

	if len(got) != 1 {
		t.Fatalf("updates published = %d, want 1", len(got))
	}
	if got[0].CapStatus != string(caps.StatusSessionCapReached) {
		t.Errorf("capStatus = %s, want sessionCapReached", got[0].CapStatus)
	}
}

func TestAutoStopDisabledKeepsSessionRunning(t *testing.T) {
	e, clk, _, hub := newTestEngine(t, false)
	hourly(t, e, "payer-1", "3600", amt("10"), nil)

	clk.Advance(20 * time.Second)
	e.Tick(context.Background())
	if got := len(e.store.ListActive()); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}

	// The breach keeps being reported on every subsequent tick.
	ch := hub.Subscribe()
	clk.Advance(time.Second)
	e.Tick(context.Background())

	select {
	case ev := <-ch:
		if ev.Session.CapStatus != string(caps.StatusSessionCapReached) {
			t.Errorf("capStatus = %s, want sessionCapReached", ev.Session.CapStatus)
		}
	default:
		t.Fatal("no update published")
	}
}

func TestUniversalCapStopsAllPayerSessions(t *testing.T) {
	e, clk, _, _ := newTestEngine(t, true)
	ctx := context.Background()

	// Two concurrent sessions at 3600/hr share a 10-unit universal cap.
	hourly(t, e, "payer-1", "3600", nil, amt("10"))
	hourly(t, e, "payer-1", "3600", nil, nil)

	clk.Advance(9 * time.Second)
	e.Tick(ctx)
	if got := len(e.store.ListActive()); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	// At 10s each session's own cost crosses the shared cap.
	clk.Advance(time.Second)
	e.Tick(ctx)
	if got := len(e.store.ListActive()); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}

	// Once the first session's spend is on the ledger, the payer cannot
	// start another one.
	_, err := e.StartSession(ctx, StartParams{
		PayerID:     "payer-1",
		ServiceCost: money.MustParse("3600"),
		TimeUnit:    billing.UnitHour,
		Currency:    "USD",
	})
	if !errors.Is(err, caps.ErrCapConflict) {
		t.Errorf("got %v, want ErrCapConflict for exhausted payer", err)
	}
}

func TestStopSessionAccruesOnce(t *testing.T) {
	e, clk, ledger, _ := newTestEngine(t, true)
	sess := hourly(t, e, "payer-1", "3600", nil, nil)
	ctx := context.Background()

	clk.Advance(30 * time.Second)
	first, err := e.StopSession(ctx, sess.ID, StopRequested)
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if first.Billing.TotalCost.Cmp(money.MustParse("30")) != 0 {
		t.Errorf("final cost = %s, want 30", first.Billing.TotalCost)
	}

	// A second stop returns the frozen snapshot and accrues nothing more.
	clk.Advance(time.Hour)
	second, err := e.StopSession(ctx, sess.ID, StopRequested)
	if err != nil {
		t.Fatalf("second StopSession failed: %v", err)
	}
	if second.Billing.TotalCost.Cmp(first.Billing.TotalCost) != 0 {
		t.Error("second stop returned different billing")
	}

	spent, err := ledger.LifetimeSpent(ctx, "payer-1")
	if err != nil {
		t.Fatalf("LifetimeSpent failed: %v", err)
	}
	if spent.Cmp(money.MustParse("30")) != 0 {
		t.Errorf("lifetime spent = %s, want 30 (single accrual)", spent)
	}
}

func TestRemoveSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t, true)
	sess := hourly(t, e, "payer-1", "3600", amt("10"), nil)

	if err := e.RemoveSession(sess.ID); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}
	if _, err := e.store.Get(sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
	if e.SessionCap(sess.ID) != nil {
		t.Error("session cap not cleared")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e, _, _, _ := newTestEngine(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
