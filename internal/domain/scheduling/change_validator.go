package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

func validateChange(change ScheduleChange) error {
	for i, r := range change.WeeklyRules {
		if !r.DayOfWeek.Valid() {
			return invalidf("weekly_rules[%d]: invalid day_of_week %d", i, int(r.DayOfWeek))
		}
		if r.StartTime >= r.EndTime {
			return invalidf("weekly_rules[%d]: start_time %s must be before end_time %s", i, r.StartTime, r.EndTime)
		}
	}
	for i, b := range change.Breaks {
		if b.DayOfWeek != nil && !b.DayOfWeek.Valid() {
			return invalidf("breaks[%d]: invalid day_of_week %d", i, int(*b.DayOfWeek))
		}
		if b.StartTime >= b.EndTime {
			return invalidf("breaks[%d]: start_time %s must be before end_time %s", i, b.StartTime, b.EndTime)
		}
	}
	for i, ex := range change.Exceptions {
		if ex.Date.IsZero() {
			return invalidf("exceptions[%d]: date is required", i)
		}
		switch ex.Type {
		case ExceptionUnavailable:
		case ExceptionModifiedHours:
			if ex.StartTime == nil || ex.EndTime == nil {
				return invalidf("exceptions[%d]: MODIFIED_HOURS requires start_time and end_time", i)
			}
			if *ex.StartTime >= *ex.EndTime {
				return invalidf("exceptions[%d]: start_time %s must be before end_time %s", i, *ex.StartTime, *ex.EndTime)
			}
		default:
			return invalidf("exceptions[%d]: invalid type %q", i, ex.Type)
		}
	}
	return nil
}

// ValidateChanges reports which upcoming appointments on the schedule would
// be stranded by replacing its rules with change. It reads only; nothing is
// cancelled or rescheduled.
func (e *Engine) ValidateChanges(ctx context.Context, scheduleID uuid.UUID, change ScheduleChange) (*ChangeValidation, error) {
	if err := validateChange(change); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "ValidateChanges", attribute.String("schedule.id", scheduleID.String()))
	result, err := e.validateChanges(ctx, scheduleID, change)
	if err == nil {
		span.SetAttributes(attribute.Int("affected_appointments", len(result.AffectedAppointments)))
	}
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.ObserveChangeValidation(len(result.AffectedAppointments))
	return result, nil
}

func (e *Engine) validateChanges(ctx context.Context, scheduleID uuid.UUID, change ScheduleChange) (*ChangeValidation, error) {
	sched, err := e.loadSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	now := e.opts.Now()
	appts, err := e.loadAppointments(ctx, sched.ProviderID, now, now.AddDate(0, 0, e.opts.ChangeHorizonDays))
	if err != nil {
		return nil, err
	}
	return evaluateChange(sched, change, appts, now), nil
}

func evaluateChange(sched *ProviderSchedule, change ScheduleChange, appts []Appointment, now time.Time) *ChangeValidation {
	loc := sched.Location()
	sorted := make([]Appointment, len(appts))
	copy(sorted, appts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	result := &ChangeValidation{
		ScheduleID:           sched.ID,
		ProviderID:           sched.ProviderID,
		AffectedAppointments: []AffectedAppointment{},
		Conflicts:            []ConflictDetail{},
	}
	for _, a := range sorted {
		if !a.Status.Occupies() || a.Start.Before(now) {
			continue
		}
		if a.ScheduleID != nil && *a.ScheduleID != sched.ID {
			continue
		}
		date, span := projectAppointment(a, loc)
		typ, msg, ok := changeConflict(change, date, span)
		if !ok {
			continue
		}
		result.AffectedAppointments = append(result.AffectedAppointments, AffectedAppointment{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			PatientName:   a.PatientName,
			Date:          date,
			StartTime:     span.start,
			EndTime:       span.displayEnd(),
			ConflictType:  typ,
			Severity:      SeverityError,
			Message:       msg,
		})
		result.Conflicts = append(result.Conflicts, ConflictDetail{
			Type:     typ,
			Severity: SeverityError,
			Message:  msg,
			ConflictingItem: &ConflictingItem{
				ID: a.ID, Title: a.PatientName, Date: date,
				StartTime: span.start, EndTime: span.displayEnd(), Type: "appointment",
			},
		})
	}
	result.IsValid = len(result.AffectedAppointments) == 0
	return result
}

// changeConflict checks one projected appointment against the proposed
// rules. The first conflict found wins.
func changeConflict(change ScheduleChange, date Date, b bookedSpan) (ConflictType, string, bool) {
	day := date.Weekday()
	when := fmt.Sprintf("%s on %s at %s-%s", b.appt.PatientName, date, b.start, b.displayEnd())

	contained := false
	for _, r := range availableRules(change.WeeklyRules, day) {
		if Contains(r.StartTime, r.EndTime, b.start, b.end) {
			contained = true
			break
		}
	}
	if hours, _, ok := modifiedHours(change.Exceptions, date); ok && !Contains(hours.Start, hours.End, b.start, b.end) {
		contained = false
	}
	if !contained {
		return ConflictOutsideHours, "Appointment for " + when + " falls outside the proposed working hours", true
	}

	for _, br := range breaksOn(change.Breaks, day) {
		if Overlaps(b.start, b.end, br.StartTime, br.EndTime) {
			return ConflictBreak, "Appointment for " + when + " overlaps " + br.label(), true
		}
	}

	if ex := findException(change.Exceptions, date, ExceptionUnavailable); ex != nil {
		return ConflictUnavailable, "Appointment for " + when + " falls on an unavailable day: " + ex.label(), true
	}
	return "", "", false
}
