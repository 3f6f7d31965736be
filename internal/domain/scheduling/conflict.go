package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// bookingWindow is a requested booking projected onto its local day.
type bookingWindow struct {
	date  Date
	start ClockTime
	end   ClockTime
}

func (e *Engine) validateBooking(req BookingRequest) error {
	if req.ProviderID == uuid.Nil {
		return invalidf("provider_id is required")
	}
	if req.Start.IsZero() {
		return invalidf("start is required")
	}
	if req.DurationMinutes <= 0 {
		return invalidf("duration must be positive, got %d", req.DurationMinutes)
	}
	if req.DurationMinutes > minutesPerDay {
		return invalidf("duration %d exceeds one day", req.DurationMinutes)
	}
	return nil
}

// CheckBooking validates a proposed appointment against working hours,
// exceptions, existing appointments, breaks and the buffer policy. Every
// check runs and all conflicts are returned. When the booking is invalid,
// alternatives from the same snapshot are attached as an info entry.
func (e *Engine) CheckBooking(ctx context.Context, req BookingRequest) (*BookingCheck, error) {
	if err := e.validateBooking(req); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "CheckBooking",
		attribute.String("provider.id", req.ProviderID.String()),
		attribute.String("booking.start", req.Start.Format(time.RFC3339)),
		attribute.Int("booking.duration_minutes", req.DurationMinutes),
	)
	began := time.Now()
	check, err := e.checkBooking(ctx, req)
	if err == nil {
		span.SetAttributes(attribute.Bool("booking.valid", check.IsValid))
	}
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.ObserveBookingCheck(check.IsValid, time.Since(began))
	return check, nil
}

func (e *Engine) checkBooking(ctx context.Context, req BookingRequest) (*BookingCheck, error) {
	horizon := e.opts.AlternativeHorizonDays
	utcDate := DateOf(req.Start.UTC())
	sched, err := e.loadDefaultSchedule(ctx, req.ProviderID, utcDate.AddDays(-1), utcDate.AddDays(horizon+1))
	if errors.Is(err, ErrScheduleNotFound) {
		return &BookingCheck{
			IsValid: false,
			Conflicts: []ConflictDetail{{
				Type:     ConflictUnavailable,
				Severity: SeverityError,
				Message:  "Provider has no active schedule",
			}},
			Warnings: []ConflictDetail{},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	loc := sched.Location()
	local := req.Start.In(loc)
	date := DateOf(local)
	appts, err := e.loadAppointments(ctx, req.ProviderID, date.In(loc), date.AddDays(horizon).In(loc))
	if err != nil {
		return nil, err
	}
	snap := newSnapshot(sched, appts)

	start := ClockOf(local)
	w := bookingWindow{date: date, start: start, end: start.Add(req.DurationMinutes)}
	check := evaluateBooking(snap, w, e.opts.BufferMinutes, req.ExcludeAppointmentID)
	if check.IsValid {
		return check, nil
	}

	alts := findAlternatives(snap, date, req.DurationMinutes, e.opts.MaxAlternatives, horizon, e.opts.Now(), e.opts.BufferMinutes, req.ExcludeAppointmentID)
	check.Suggestions = alts
	msg := fmt.Sprintf("%d alternative slot(s) available in the next %d days", len(alts), horizon)
	if len(alts) == 0 {
		msg = fmt.Sprintf("No alternative slots available in the next %d days", horizon)
	}
	check.Conflicts = append(check.Conflicts, ConflictDetail{
		Type:        check.Conflicts[0].Type,
		Severity:    SeverityInfo,
		Message:     msg,
		Suggestions: alts,
	})
	return check, nil
}

// evaluateBooking runs every conflict check for w against snap. It is pure
// and never computes suggestions, so the alternative finder can reuse it.
func evaluateBooking(snap *snapshot, w bookingWindow, bufferMinutes int, exclude *uuid.UUID) *BookingCheck {
	check := &BookingCheck{Conflicts: []ConflictDetail{}, Warnings: []ConflictDetail{}}
	day := w.date.Weekday()

	rules := snap.availableRules(day)
	contained := false
	for _, r := range rules {
		if Contains(r.StartTime, r.EndTime, w.start, w.end) {
			contained = true
			break
		}
	}
	if !contained {
		msg := fmt.Sprintf("Provider does not work on %s", day)
		if len(rules) > 0 {
			r := nearestRule(rules, w.start)
			msg = fmt.Sprintf("Requested time %s-%s is outside working hours (%s-%s)", w.start, w.end, r.StartTime, r.EndTime)
		}
		check.Conflicts = append(check.Conflicts, ConflictDetail{
			Type:     ConflictOutsideHours,
			Severity: SeverityError,
			Message:  msg,
		})
	}

	if ex := snap.exception(w.date, ExceptionUnavailable); ex != nil {
		check.Conflicts = append(check.Conflicts, ConflictDetail{
			Type:     ConflictUnavailable,
			Severity: SeverityError,
			Message:  fmt.Sprintf("Provider is unavailable on %s: %s", w.date, ex.label()),
			ConflictingItem: &ConflictingItem{
				ID: ex.ID, Title: ex.label(), Date: ex.Date,
				StartTime: StartOfDay, EndTime: EndOfDay, Type: "exception",
			},
		})
	}
	if hours, ex, ok := modifiedHours(snap.schedule.Exceptions, w.date); ok && !Contains(hours.Start, hours.End, w.start, w.end) {
		check.Conflicts = append(check.Conflicts, ConflictDetail{
			Type:     ConflictOutsideHours,
			Severity: SeverityError,
			Message:  fmt.Sprintf("Requested time %s-%s is outside modified hours (%s-%s)", w.start, w.end, hours.Start, hours.End),
			ConflictingItem: &ConflictingItem{
				ID: ex.ID, Title: ex.label(), Date: ex.Date,
				StartTime: hours.Start, EndTime: hours.End, Type: "exception",
			},
		})
	}

	for _, b := range snap.appointmentsOn(w.date) {
		if exclude != nil && b.appt.ID == *exclude {
			continue
		}
		item := &ConflictingItem{
			ID: b.appt.ID, Title: b.appt.PatientName, Date: w.date,
			StartTime: b.start, EndTime: b.displayEnd(), Type: "appointment",
		}
		if Overlaps(w.start, w.end, b.start, b.end) {
			check.Conflicts = append(check.Conflicts, ConflictDetail{
				Type:            ConflictAppointment,
				Severity:        SeverityError,
				Message:         fmt.Sprintf("Conflicts with appointment for %s at %s-%s", b.appt.PatientName, b.start, b.displayEnd()),
				ConflictingItem: item,
			})
			continue
		}
		if gap := bufferGap(w, b); gap < bufferMinutes {
			check.Warnings = append(check.Warnings, ConflictDetail{
				Type:            ConflictBufferViolation,
				Severity:        SeverityWarning,
				Message:         fmt.Sprintf("Only %d minutes between this booking and the appointment for %s at %s-%s (buffer is %d)", gap, b.appt.PatientName, b.start, b.displayEnd(), bufferMinutes),
				ConflictingItem: item,
			})
		}
	}

	for _, br := range snap.breaksOn(day) {
		if !Overlaps(w.start, w.end, br.StartTime, br.EndTime) {
			continue
		}
		check.Conflicts = append(check.Conflicts, ConflictDetail{
			Type:     ConflictBreak,
			Severity: SeverityError,
			Message:  fmt.Sprintf("Overlaps %s (%s-%s)", br.label(), br.StartTime, br.EndTime),
			ConflictingItem: &ConflictingItem{
				ID: br.ID, Title: br.label(), Date: w.date,
				StartTime: br.StartTime, EndTime: br.EndTime, Type: "break",
			},
		})
	}

	check.IsValid = len(check.Conflicts) == 0
	return check
}

// bufferGap is the idle time between a non-overlapping appointment and the
// requested window, measured on whichever side the appointment sits.
func bufferGap(w bookingWindow, b bookedSpan) int {
	if b.end <= w.start {
		return (w.start - b.end).Minutes()
	}
	return (b.start - w.end).Minutes()
}

func nearestRule(rules []WeeklyAvailabilityRule, at ClockTime) WeeklyAvailabilityRule {
	best := rules[0]
	bestDist := distance(best, at)
	for _, r := range rules[1:] {
		if d := distance(r, at); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best
}

func distance(r WeeklyAvailabilityRule, at ClockTime) int {
	switch {
	case at < r.StartTime:
		return (r.StartTime - at).Minutes()
	case at >= r.EndTime:
		return (at - r.EndTime).Minutes()
	}
	return 0
}
