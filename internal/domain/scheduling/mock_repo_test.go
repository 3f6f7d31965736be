package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repository --

type mockScheduleRepo struct {
	mu           sync.Mutex
	schedules    map[uuid.UUID]*ProviderSchedule // keyed by provider
	appointments []Appointment
	providers    []ProviderSummary

	scheduleErr  map[uuid.UUID]error
	apptErr      error
	providersErr error
	delay        time.Duration
	scheduleHits int
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{
		schedules:   make(map[uuid.UUID]*ProviderSchedule),
		scheduleErr: make(map[uuid.UUID]error),
	}
}

func (m *mockScheduleRepo) wait(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (m *mockScheduleRepo) GetActiveDefaultSchedule(ctx context.Context, providerID uuid.UUID, from, to Date) (*ProviderSchedule, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleHits++
	if err := m.scheduleErr[providerID]; err != nil {
		return nil, err
	}
	s, ok := m.schedules[providerID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	out := *s
	out.Exceptions = nil
	for _, ex := range s.Exceptions {
		if !ex.Date.Before(from) && !ex.Date.After(to) {
			out.Exceptions = append(out.Exceptions, ex)
		}
	}
	return &out, nil
}

func (m *mockScheduleRepo) GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*ProviderSchedule, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.ID == scheduleID {
			header := *s
			header.WeeklyRules, header.Breaks, header.Exceptions = nil, nil, nil
			return &header, nil
		}
	}
	return nil, ErrScheduleNotFound
}

func (m *mockScheduleRepo) GetAppointments(ctx context.Context, q AppointmentQuery) ([]Appointment, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.apptErr != nil {
		return nil, m.apptErr
	}
	var out []Appointment
	for _, a := range m.appointments {
		if a.ProviderID != q.ProviderID || a.Start.Before(q.From) || !a.Start.Before(q.To) {
			continue
		}
		if len(q.Statuses) > 0 && !hasStatus(q.Statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func hasStatus(statuses []AppointmentStatus, s AppointmentStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func (m *mockScheduleRepo) ListActiveProviders(ctx context.Context) ([]ProviderSummary, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.providersErr != nil {
		return nil, m.providersErr
	}
	return append([]ProviderSummary(nil), m.providers...), nil
}

// -- Fixtures --

var (
	// 2026-10-19 is a Monday, 2026-10-23 the Friday of the same week.
	monday = Date{Year: 2026, Month: time.October, Day: 19}
	friday = Date{Year: 2026, Month: time.October, Day: 23}

	fixedNow = time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
)

func at(d Date, clock string) time.Time {
	return d.At(MustClockTime(clock), time.UTC)
}

func strPtr(s string) *string { return &s }

func clockPtr(s string) *ClockTime {
	c := MustClockTime(s)
	return &c
}

func weekdayPtr(w Weekday) *Weekday { return &w }

func rule(day Weekday, start, end string) WeeklyAvailabilityRule {
	return WeeklyAvailabilityRule{
		ID:          uuid.New(),
		DayOfWeek:   day,
		IsAvailable: true,
		StartTime:   MustClockTime(start),
		EndTime:     MustClockTime(end),
	}
}

// addProvider registers a verified provider with a UTC default schedule.
func (m *mockScheduleRepo) addProvider(name string, rules ...WeeklyAvailabilityRule) (uuid.UUID, *ProviderSchedule) {
	providerID := uuid.New()
	sched := &ProviderSchedule{
		ID:          uuid.New(),
		ProviderID:  providerID,
		Name:        "Default",
		IsActive:    true,
		IsDefault:   true,
		Timezone:    "UTC",
		WeeklyRules: rules,
	}
	m.schedules[providerID] = sched
	m.providers = append(m.providers, ProviderSummary{ID: providerID, Name: name, IsActive: true, IsVerified: true})
	return providerID, sched
}

func (m *mockScheduleRepo) book(providerID uuid.UUID, start time.Time, minutes int, status AppointmentStatus) Appointment {
	a := Appointment{
		ID:              uuid.New(),
		ProviderID:      providerID,
		PatientID:       uuid.New(),
		PatientName:     "Jordan Smith",
		Start:           start,
		DurationMinutes: minutes,
		Status:          status,
	}
	m.appointments = append(m.appointments, a)
	return a
}

type recordingMetrics struct {
	mu            sync.Mutex
	bookingChecks []bool
	availability  []string
	repoErrors    []string
	changes       []int
}

func (r *recordingMetrics) ObserveBookingCheck(valid bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookingChecks = append(r.bookingChecks, valid)
}

func (r *recordingMetrics) ObserveAvailability(scope string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability = append(r.availability, scope)
}

func (r *recordingMetrics) ObserveRepositoryError(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repoErrors = append(r.repoErrors, op)
}

func (r *recordingMetrics) ObserveChangeValidation(affected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, affected)
}

func newTestEngine(repo ScheduleRepository) *Engine {
	return NewEngine(repo, Options{Now: func() time.Time { return fixedNow }}, zerolog.Nop())
}
