package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func mondayOnly() ScheduleChange {
	return ScheduleChange{WeeklyRules: []WeeklyAvailabilityRule{rule(Monday, "09:00", "17:00")}}
}

func TestValidateChanges_OutsideHours(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, sched := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"), rule(Friday, "09:00", "17:00"))
	appt := repo.book(providerID, at(friday, "10:00"), 30, StatusConfirmed)
	repo.book(providerID, at(monday, "10:00"), 30, StatusConfirmed)
	engine := newTestEngine(repo)

	result, err := engine.ValidateChanges(context.Background(), sched.ID, mondayOnly())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected change to be invalid")
	}
	if result.ScheduleID != sched.ID || result.ProviderID != providerID {
		t.Errorf("unexpected ids %s/%s", result.ScheduleID, result.ProviderID)
	}
	if len(result.AffectedAppointments) != 1 || len(result.Conflicts) != 1 {
		t.Fatalf("expected one affected appointment, got %+v", result.AffectedAppointments)
	}
	a := result.AffectedAppointments[0]
	if a.AppointmentID != appt.ID || a.ConflictType != ConflictOutsideHours || a.Severity != SeverityError {
		t.Errorf("unexpected affected appointment %+v", a)
	}
	if a.Date != friday || a.StartTime != MustClockTime("10:00") || a.EndTime != MustClockTime("10:30") {
		t.Errorf("unexpected projection %s %s-%s", a.Date, a.StartTime, a.EndTime)
	}
	want := "Appointment for Jordan Smith on 2026-10-23 at 10:00-10:30 falls outside the proposed working hours"
	if a.Message != want {
		t.Errorf("expected message %q, got %q", want, a.Message)
	}
	if item := result.Conflicts[0].ConflictingItem; item == nil || item.ID != appt.ID || item.Type != "appointment" {
		t.Errorf("unexpected conflicting item %+v", item)
	}
}

func TestValidateChanges_Conflicts(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		change  func() ScheduleChange
		want    ConflictType
		message string
	}{
		{
			name:  "shortened hours",
			start: "16:30",
			change: func() ScheduleChange {
				return ScheduleChange{WeeklyRules: []WeeklyAvailabilityRule{rule(Monday, "09:00", "16:00")}}
			},
			want:    ConflictOutsideHours,
			message: "Appointment for Jordan Smith on 2026-10-19 at 16:30-17:00 falls outside the proposed working hours",
		},
		{
			name:  "new break",
			start: "12:15",
			change: func() ScheduleChange {
				c := mondayOnly()
				c.Breaks = []BreakPeriod{{StartTime: MustClockTime("12:00"), EndTime: MustClockTime("13:00"), Title: strPtr("Lunch")}}
				return c
			},
			want:    ConflictBreak,
			message: "Appointment for Jordan Smith on 2026-10-19 at 12:15-12:45 overlaps Lunch",
		},
		{
			name:  "break on another day",
			start: "12:15",
			change: func() ScheduleChange {
				c := mondayOnly()
				c.Breaks = []BreakPeriod{{DayOfWeek: weekdayPtr(Tuesday), StartTime: MustClockTime("12:00"), EndTime: MustClockTime("13:00")}}
				return c
			},
		},
		{
			name:  "unavailable day",
			start: "10:00",
			change: func() ScheduleChange {
				c := mondayOnly()
				c.Exceptions = []ScheduleException{{Date: monday, Type: ExceptionUnavailable, Title: strPtr("Training")}}
				return c
			},
			want:    ConflictUnavailable,
			message: "Appointment for Jordan Smith on 2026-10-19 at 10:00-10:30 falls on an unavailable day: Training",
		},
		{
			name:  "modified hours exclude the appointment",
			start: "15:00",
			change: func() ScheduleChange {
				c := mondayOnly()
				c.Exceptions = []ScheduleException{{Date: monday, Type: ExceptionModifiedHours, StartTime: clockPtr("09:00"), EndTime: clockPtr("13:00")}}
				return c
			},
			want:    ConflictOutsideHours,
			message: "Appointment for Jordan Smith on 2026-10-19 at 15:00-15:30 falls outside the proposed working hours",
		},
		{
			name:   "unchanged hours",
			start:  "15:00",
			change: mondayOnly,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockScheduleRepo()
			providerID, sched := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
			repo.book(providerID, at(monday, tt.start), 30, StatusScheduled)
			engine := newTestEngine(repo)

			result, err := engine.ValidateChanges(context.Background(), sched.ID, tt.change())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == "" {
				if !result.IsValid || len(result.AffectedAppointments) != 0 {
					t.Errorf("expected no affected appointments, got %+v", result.AffectedAppointments)
				}
				return
			}
			if len(result.AffectedAppointments) != 1 {
				t.Fatalf("expected one affected appointment, got %+v", result.AffectedAppointments)
			}
			a := result.AffectedAppointments[0]
			if a.ConflictType != tt.want || a.Message != tt.message {
				t.Errorf("expected %s %q, got %s %q", tt.want, tt.message, a.ConflictType, a.Message)
			}
		})
	}
}

func TestValidateChanges_SkipsIrrelevantAppointments(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, sched := repo.addProvider("Dr. Alice", rule(Friday, "09:00", "17:00"))
	repo.book(providerID, at(friday, "09:00"), 30, StatusCancelled)
	repo.book(providerID, at(friday, "09:30"), 30, StatusCompleted)
	other := repo.book(providerID, at(friday, "10:00"), 30, StatusConfirmed)
	otherSchedule := uuid.New()
	repo.appointments[len(repo.appointments)-1].ScheduleID = &otherSchedule
	own := repo.book(providerID, at(friday, "11:00"), 30, StatusConfirmed)
	repo.appointments[len(repo.appointments)-1].ScheduleID = &sched.ID
	engine := newTestEngine(repo)

	result, err := engine.ValidateChanges(context.Background(), sched.ID, mondayOnly())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.AffectedAppointments) != 1 {
		t.Fatalf("expected only the schedule's own active appointment, got %+v", result.AffectedAppointments)
	}
	if id := result.AffectedAppointments[0].AppointmentID; id != own.ID || id == other.ID {
		t.Errorf("unexpected affected appointment %s", id)
	}
}

func TestEvaluateChange_SkipsPastAndSorts(t *testing.T) {
	sched := &ProviderSchedule{ID: uuid.New(), ProviderID: uuid.New(), Timezone: "UTC"}
	now := at(monday, "12:00")
	mk := func(start time.Time) Appointment {
		return Appointment{ID: uuid.New(), PatientName: "Sam Lee", Start: start, DurationMinutes: 30, Status: StatusConfirmed}
	}
	later := mk(at(friday, "09:00"))
	sooner := mk(at(monday.AddDays(1), "09:00"))
	past := mk(at(monday, "09:00"))

	result := evaluateChange(sched, ScheduleChange{}, []Appointment{later, past, sooner}, now)
	if len(result.AffectedAppointments) != 2 {
		t.Fatalf("expected two future appointments, got %d", len(result.AffectedAppointments))
	}
	if result.AffectedAppointments[0].AppointmentID != sooner.ID || result.AffectedAppointments[1].AppointmentID != later.ID {
		t.Error("expected affected appointments in start order")
	}
}

func TestValidateChanges_NoAppointments(t *testing.T) {
	repo := newMockScheduleRepo()
	_, sched := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	metrics := &recordingMetrics{}
	engine := NewEngine(repo, Options{Metrics: metrics, Now: func() time.Time { return fixedNow }}, zerolog.Nop())

	result, err := engine.ValidateChanges(context.Background(), sched.ID, ScheduleChange{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsValid || result.AffectedAppointments == nil || result.Conflicts == nil {
		t.Errorf("expected a valid result with empty lists, got %+v", result)
	}
	if len(metrics.changes) != 1 || metrics.changes[0] != 0 {
		t.Errorf("expected one change validation observation, got %v", metrics.changes)
	}
}

func TestValidateChanges_InvalidChange(t *testing.T) {
	engine := newTestEngine(newMockScheduleRepo())
	bad := Weekday(9)

	tests := []struct {
		name   string
		change ScheduleChange
	}{
		{"rule day out of range", ScheduleChange{WeeklyRules: []WeeklyAvailabilityRule{rule(Weekday(7), "09:00", "17:00")}}},
		{"rule reversed", ScheduleChange{WeeklyRules: []WeeklyAvailabilityRule{rule(Monday, "17:00", "09:00")}}},
		{"break day out of range", ScheduleChange{Breaks: []BreakPeriod{{DayOfWeek: &bad, StartTime: 600, EndTime: 660}}}},
		{"break empty", ScheduleChange{Breaks: []BreakPeriod{{StartTime: 600, EndTime: 600}}}},
		{"exception without date", ScheduleChange{Exceptions: []ScheduleException{{Type: ExceptionUnavailable}}}},
		{"exception unknown type", ScheduleChange{Exceptions: []ScheduleException{{Date: monday, Type: "HOLIDAY"}}}},
		{"modified hours missing times", ScheduleChange{Exceptions: []ScheduleException{{Date: monday, Type: ExceptionModifiedHours}}}},
		{"modified hours reversed", ScheduleChange{Exceptions: []ScheduleException{{Date: monday, Type: ExceptionModifiedHours, StartTime: clockPtr("14:00"), EndTime: clockPtr("10:00")}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.ValidateChanges(context.Background(), uuid.New(), tt.change); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestValidateChanges_UnknownSchedule(t *testing.T) {
	engine := newTestEngine(newMockScheduleRepo())
	if _, err := engine.ValidateChanges(context.Background(), uuid.New(), mondayOnly()); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestValidateChanges_Indeterminate(t *testing.T) {
	repo := newMockScheduleRepo()
	_, sched := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "17:00"))
	repo.apptErr = errors.New("read timeout")
	engine := newTestEngine(repo)

	if _, err := engine.ValidateChanges(context.Background(), sched.ID, mondayOnly()); !errors.Is(err, ErrIndeterminate) {
		t.Errorf("expected ErrIndeterminate, got %v", err)
	}
}

func TestValidateChanges_AppointmentPastMidnightReportsEndOfDay(t *testing.T) {
	repo := newMockScheduleRepo()
	providerID, sched := repo.addProvider("Dr. Alice", rule(Monday, "09:00", "23:59"))
	repo.book(providerID, at(monday, "23:30"), 60, StatusConfirmed)
	engine := newTestEngine(repo)

	result, err := engine.ValidateChanges(context.Background(), sched.ID, mondayOnly())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.AffectedAppointments) != 1 {
		t.Fatalf("expected one affected appointment, got %+v", result.AffectedAppointments)
	}
	a := result.AffectedAppointments[0]
	if a.StartTime != MustClockTime("23:30") || a.EndTime != EndOfDay {
		t.Errorf("expected 23:30-23:59, got %s-%s", a.StartTime, a.EndTime)
	}
	if item := result.Conflicts[0].ConflictingItem; item == nil || item.EndTime != EndOfDay {
		t.Errorf("unexpected conflicting item %+v", item)
	}
	if _, err := ParseClockTime(a.EndTime.String()); err != nil {
		t.Errorf("rendered end should parse: %v", err)
	}
}
