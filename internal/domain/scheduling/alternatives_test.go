package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func startTimes(alts []AlternativeSlot) []string {
	out := make([]string, len(alts))
	for i, a := range alts {
		out[i] = a.Date.String() + " " + a.StartTime.String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFindAlternatives(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	repo.book(providerID, at(monday, "10:00"), 30, StatusConfirmed)
	engine := newTestEngine(repo)

	alts, err := engine.FindAlternatives(context.Background(), providerID, monday, 30, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2026-10-19 09:00", "2026-10-19 09:30", "2026-10-19 10:30"}
	if got := startTimes(alts); !equalStrings(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	for _, a := range alts {
		if (a.EndTime - a.StartTime).Minutes() != 30 {
			t.Errorf("alternative %s has wrong length", a.StartTime)
		}
	}
}

func TestFindAlternatives_DefaultLimit(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	engine := newTestEngine(repo)

	alts, err := engine.FindAlternatives(context.Background(), providerID, monday, 30, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alts) != DefaultMaxAlternatives {
		t.Errorf("expected %d alternatives, got %d", DefaultMaxAlternatives, len(alts))
	}
}

func TestFindAlternatives_SkipsPast(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	now := time.Date(2026, time.October, 19, 11, 10, 0, 0, time.UTC)
	engine := NewEngine(repo, Options{Now: func() time.Time { return now }}, zerolog.Nop())

	alts, err := engine.FindAlternatives(context.Background(), providerID, monday, 30, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alts) != 1 || alts[0].StartTime != MustClockTime("11:30") {
		t.Errorf("expected first alternative at 11:30, got %v", startTimes(alts))
	}
}

func TestFindAlternatives_SearchesForward(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "10:00"))
	engine := newTestEngine(repo)

	tuesday := monday.AddDays(1)
	alts, err := engine.FindAlternatives(context.Background(), providerID, tuesday, 30, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2026-10-26 09:00", "2026-10-26 09:30"}
	if got := startTimes(alts); !equalStrings(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFindAlternatives_HorizonExhausted(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	engine := NewEngine(repo, Options{AlternativeHorizonDays: 3, Now: func() time.Time { return fixedNow }}, zerolog.Nop())

	alts, err := engine.FindAlternatives(context.Background(), providerID, monday.AddDays(1), 30, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alts == nil || len(alts) != 0 {
		t.Errorf("expected an empty, non-nil list, got %#v", alts)
	}
}

func TestFindAlternatives_OverlappingRules(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:30", "10:30"), rule(Monday, "09:00", "10:00"))
	engine := newTestEngine(repo)

	alts, err := engine.FindAlternatives(context.Background(), providerID, monday, 30, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2026-10-19 09:00", "2026-10-19 09:30", "2026-10-19 10:00"}
	if got := startTimes(alts); !equalStrings(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFindAlternatives_RespectsBlockers(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, sched := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "11:00"))
	sched.Breaks = []BreakPeriod{{ID: uuid.New(), StartTime: MustClockTime("09:30"), EndTime: MustClockTime("10:00")}}
	sched.Exceptions = []ScheduleException{{ID: uuid.New(), Date: monday.AddDays(7), Type: ExceptionUnavailable}}
	repo.book(providerID, at(monday, "10:00"), 30, StatusScheduled)
	engine := NewEngine(repo, Options{AlternativeHorizonDays: 14, Now: func() time.Time { return fixedNow }}, zerolog.Nop())

	alts, err := engine.FindAlternatives(context.Background(), providerID, monday, 30, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2026-10-19 09:00", "2026-10-19 10:30"}
	if got := startTimes(alts); !equalStrings(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestFindAlternatives_Errors(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, _ := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	engine := newTestEngine(repo)
	ctx := context.Background()

	if _, err := engine.FindAlternatives(ctx, providerID, monday, 0, 3); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("zero duration: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := engine.FindAlternatives(ctx, providerID, Date{}, 30, 3); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing date: expected ErrInvalidRequest, got %v", err)
	}
	if _, err := engine.FindAlternatives(ctx, uuid.New(), monday, 30, 3); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("unknown provider: expected ErrScheduleNotFound, got %v", err)
	}

	repo.apptErr = errors.New("boom")
	if _, err := engine.FindAlternatives(ctx, providerID, monday, 30, 3); !errors.Is(err, ErrIndeterminate) {
		t.Errorf("repository failure: expected ErrIndeterminate, got %v", err)
	}
}

func TestFindAlternatives_SkipsPastSlotsOnDSTDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Clocks jump from 02:00 EST to 03:00 EDT on this Sunday.
	springForward := Date{Year: 2026, Month: time.March, Day: 8}
	repo := newMockScheduleRepo()
	providerID, sched := repo.addProvider("Dr. Alice", rule(Sunday, "09:00", "12:00"))
	sched.Timezone = "America/New_York"
	now := time.Date(2026, time.March, 8, 9, 40, 0, 0, loc)
	engine := NewEngine(repo, Options{Now: func() time.Time { return now }}, zerolog.Nop())

	alts, err := engine.FindAlternatives(context.Background(), providerID, springForward, 30, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := startTimes(alts); !equalStrings(got, []string{"2026-03-08 10:00"}) {
		t.Errorf("expected first future slot at 10:00 local, got %v", got)
	}
}
