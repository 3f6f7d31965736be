package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrIndeterminate means the engine could not read a consistent snapshot
	// (repository failure, timeout or cancellation). Callers must not treat it
	// as availability.
	ErrIndeterminate = errors.New("availability indeterminate")
	// ErrScheduleNotFound means the provider has no active default schedule.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrInvalidRequest covers malformed durations, ranges and times.
	ErrInvalidRequest = errors.New("invalid request")
)

// ProviderSchedule maps to the provider_schedule table together with its
// nested rules. Exceptions are loaded for the requested window only.
type ProviderSchedule struct {
	ID          uuid.UUID                `db:"id" json:"id"`
	ProviderID  uuid.UUID                `db:"provider_id" json:"provider_id"`
	Name        string                   `db:"name" json:"name"`
	IsActive    bool                     `db:"is_active" json:"is_active"`
	IsDefault   bool                     `db:"is_default" json:"is_default"`
	Timezone    string                   `db:"timezone" json:"timezone"`
	WeeklyRules []WeeklyAvailabilityRule `json:"weekly_rules"`
	Breaks      []BreakPeriod            `json:"breaks"`
	Exceptions  []ScheduleException      `json:"exceptions"`
}

// Location resolves the schedule timezone, falling back to UTC for empty or
// unknown names.
func (s *ProviderSchedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeeklyAvailabilityRule maps to the weekly_availability_rule table.
type WeeklyAvailabilityRule struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ScheduleID  uuid.UUID `db:"schedule_id" json:"schedule_id"`
	DayOfWeek   Weekday   `db:"day_of_week" json:"day_of_week"`
	IsAvailable bool      `db:"is_available" json:"is_available"`
	StartTime   ClockTime `db:"start_time" json:"start_time"`
	EndTime     ClockTime `db:"end_time" json:"end_time"`
}

// BreakPeriod maps to the break_period table. A nil DayOfWeek applies to
// every day.
type BreakPeriod struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ScheduleID  uuid.UUID `db:"schedule_id" json:"schedule_id"`
	DayOfWeek   *Weekday  `db:"day_of_week" json:"day_of_week,omitempty"`
	StartTime   ClockTime `db:"start_time" json:"start_time"`
	EndTime     ClockTime `db:"end_time" json:"end_time"`
	Title       *string   `db:"title" json:"title,omitempty"`
	IsRecurring bool      `db:"is_recurring" json:"is_recurring"`
}

// AppliesTo reports whether the break is in effect on the given weekday.
func (b BreakPeriod) AppliesTo(day Weekday) bool {
	return b.DayOfWeek == nil || *b.DayOfWeek == day
}

func (b BreakPeriod) label() string {
	if b.Title != nil && *b.Title != "" {
		return *b.Title
	}
	return "Break"
}

type ExceptionType string

const (
	ExceptionUnavailable   ExceptionType = "UNAVAILABLE"
	ExceptionModifiedHours ExceptionType = "MODIFIED_HOURS"
)

// ScheduleException maps to the schedule_exception table. StartTime and
// EndTime are required for MODIFIED_HOURS.
type ScheduleException struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	ScheduleID uuid.UUID     `db:"schedule_id" json:"schedule_id"`
	Date       Date          `db:"exception_date" json:"date"`
	Type       ExceptionType `db:"type" json:"type"`
	StartTime  *ClockTime    `db:"start_time" json:"start_time,omitempty"`
	EndTime    *ClockTime    `db:"end_time" json:"end_time,omitempty"`
	Title      *string       `db:"title" json:"title,omitempty"`
	Notes      *string       `db:"notes" json:"notes,omitempty"`
}

func (e ScheduleException) label() string {
	if e.Title != nil && *e.Title != "" {
		return *e.Title
	}
	return "Provider unavailable"
}

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "SCHEDULED"
	StatusConfirmed  AppointmentStatus = "CONFIRMED"
	StatusInProgress AppointmentStatus = "IN_PROGRESS"
	StatusCompleted  AppointmentStatus = "COMPLETED"
	StatusCancelled  AppointmentStatus = "CANCELLED"
	StatusNoShow     AppointmentStatus = "NO_SHOW"
)

// ActiveStatuses are the statuses that occupy a provider's time.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

// Occupies reports whether an appointment in this status blocks time.
func (s AppointmentStatus) Occupies() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Appointment is read-only to the engine.
type Appointment struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	ProviderID      uuid.UUID         `db:"provider_id" json:"provider_id"`
	PatientID       uuid.UUID         `db:"patient_id" json:"patient_id"`
	PatientName     string            `db:"patient_name" json:"patient_name"`
	ScheduleID      *uuid.UUID        `db:"schedule_id" json:"schedule_id,omitempty"`
	Start           time.Time         `db:"start_at" json:"start"`
	DurationMinutes int               `db:"duration_minutes" json:"duration_minutes"`
	Status          AppointmentStatus `db:"status" json:"status"`
}

// End is the exclusive end instant.
func (a Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// AppointmentQuery selects appointments starting in [From, To).
type AppointmentQuery struct {
	ProviderID uuid.UUID
	From       time.Time
	To         time.Time
	Statuses   []AppointmentStatus
}

// ProviderSummary maps to the provider table.
type ProviderSummary struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"full_name" json:"name"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	IsVerified bool      `db:"is_verified" json:"is_verified"`
}

type ConflictType string

const (
	ConflictAppointment     ConflictType = "appointment"
	ConflictBreak           ConflictType = "break"
	ConflictUnavailable     ConflictType = "unavailable"
	ConflictOutsideHours    ConflictType = "outside_hours"
	ConflictBufferViolation ConflictType = "buffer_violation"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ConflictingItem references the record that caused a conflict, expressed in
// the schedule's timezone.
type ConflictingItem struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Date      Date      `json:"date"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
	Type      string    `json:"type"`
}

type ConflictDetail struct {
	Type            ConflictType      `json:"type"`
	Severity        Severity          `json:"severity"`
	Message         string            `json:"message"`
	ConflictingItem *ConflictingItem  `json:"conflicting_item,omitempty"`
	Suggestions     []AlternativeSlot `json:"suggestions,omitempty"`
}

type AvailabilitySlot struct {
	Date         Date       `json:"date"`
	StartTime    ClockTime  `json:"start_time"`
	EndTime      ClockTime  `json:"end_time"`
	IsAvailable  bool       `json:"is_available"`
	Reason       string     `json:"reason,omitempty"`
	ProviderID   *uuid.UUID `json:"provider_id,omitempty"`
	ProviderName string     `json:"provider_name,omitempty"`
}

type AlternativeSlot struct {
	Date      Date      `json:"date"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
}

// BookingRequest is a proposed appointment. Start is an absolute instant;
// the engine projects it into the schedule's timezone.
type BookingRequest struct {
	ProviderID           uuid.UUID  `json:"provider_id"`
	Start                time.Time  `json:"start"`
	DurationMinutes      int        `json:"duration_minutes"`
	PatientID            *uuid.UUID `json:"patient_id,omitempty"`
	ExcludeAppointmentID *uuid.UUID `json:"exclude_appointment_id,omitempty"`
}

// BookingCheck is the result of a conflict check. When the booking is
// invalid, Conflicts ends with one info-severity entry carrying the
// alternatives; it repeats the first error's type, so count conflicts by type
// over Errors() rather than over Conflicts.
type BookingCheck struct {
	IsValid     bool              `json:"is_valid"`
	Conflicts   []ConflictDetail  `json:"conflicts"`
	Warnings    []ConflictDetail  `json:"warnings"`
	Suggestions []AlternativeSlot `json:"suggestions,omitempty"`
}

// Errors returns the error-severity entries of Conflicts.
func (b *BookingCheck) Errors() []ConflictDetail {
	out := []ConflictDetail{}
	for _, c := range b.Conflicts {
		if c.Severity == SeverityError {
			out = append(out, c)
		}
	}
	return out
}

// ScheduleChange is a proposed replacement of a schedule's recurring rules.
type ScheduleChange struct {
	WeeklyRules []WeeklyAvailabilityRule `json:"weekly_rules"`
	Breaks      []BreakPeriod            `json:"breaks"`
	Exceptions  []ScheduleException      `json:"exceptions"`
}

type AffectedAppointment struct {
	AppointmentID uuid.UUID    `json:"appointment_id"`
	PatientID     uuid.UUID    `json:"patient_id"`
	PatientName   string       `json:"patient_name"`
	Date          Date         `json:"date"`
	StartTime     ClockTime    `json:"start_time"`
	EndTime       ClockTime    `json:"end_time"`
	ConflictType  ConflictType `json:"conflict_type"`
	Severity      Severity     `json:"severity"`
	Message       string       `json:"message"`
}

type ChangeValidation struct {
	ScheduleID           uuid.UUID             `json:"schedule_id"`
	ProviderID           uuid.UUID             `json:"provider_id"`
	IsValid              bool                  `json:"is_valid"`
	AffectedAppointments []AffectedAppointment `json:"affected_appointments"`
	Conflicts            []ConflictDetail      `json:"conflicts"`
}
