package scheduling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	reasonNotWorking   = "Not available on this day"
	reasonOutsideHours = "Outside modified hours"
	reasonBooked       = "Already booked"
)

func (e *Engine) validateRange(startDate, endDate Date, slotMinutes int) error {
	if slotMinutes <= 0 {
		return invalidf("slot duration must be positive, got %d", slotMinutes)
	}
	if startDate.IsZero() || endDate.IsZero() {
		return invalidf("start and end dates are required")
	}
	if endDate.Before(startDate) {
		return invalidf("end date %s is before start date %s", endDate, startDate)
	}
	if n := daysBetween(startDate, endDate); n > e.opts.MaxRangeDays {
		return invalidf("date range spans %d days, maximum is %d", n, e.opts.MaxRangeDays)
	}
	return nil
}

// ComputeAvailability lists every candidate slot for the provider over
// [startDate, endDate], each marked available or carrying the reason it is
// not. Dates and times are in the schedule's timezone.
func (e *Engine) ComputeAvailability(ctx context.Context, providerID uuid.UUID, startDate, endDate Date, slotMinutes int) ([]AvailabilitySlot, error) {
	if err := e.validateRange(startDate, endDate, slotMinutes); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "ComputeAvailability",
		attribute.String("provider.id", providerID.String()),
		attribute.String("range.start", startDate.String()),
		attribute.String("range.end", endDate.String()),
	)
	began := time.Now()
	slots, err := e.providerAvailability(ctx, providerID, startDate, endDate, slotMinutes)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.ObserveAvailability("provider", len(slots), time.Since(began))
	return slots, nil
}

func (e *Engine) providerAvailability(ctx context.Context, providerID uuid.UUID, startDate, endDate Date, slotMinutes int) ([]AvailabilitySlot, error) {
	sched, err := e.loadDefaultSchedule(ctx, providerID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	loc := sched.Location()
	appts, err := e.loadAppointments(ctx, providerID, startDate.In(loc), endDate.AddDays(1).In(loc))
	if err != nil {
		return nil, err
	}
	return computeSlots(newSnapshot(sched, appts), startDate, endDate, slotMinutes), nil
}

func computeSlots(snap *snapshot, startDate, endDate Date, slotMinutes int) []AvailabilitySlot {
	var out []AvailabilitySlot
	for d := startDate; !d.After(endDate); d = d.AddDays(1) {
		out = append(out, daySlots(snap, d, slotMinutes)...)
	}
	if out == nil {
		out = []AvailabilitySlot{}
	}
	return out
}

func wholeDay(date Date, reason string) AvailabilitySlot {
	return AvailabilitySlot{Date: date, StartTime: StartOfDay, EndTime: EndOfDay, IsAvailable: false, Reason: reason}
}

// daySlots merges the four time sources for one date. Precedence is fixed:
// an UNAVAILABLE exception wins outright, then weekly rules decide the
// candidate slots, then modified hours, breaks and appointments mark them.
func daySlots(snap *snapshot, date Date, slotMinutes int) []AvailabilitySlot {
	if ex := snap.exception(date, ExceptionUnavailable); ex != nil {
		return []AvailabilitySlot{wholeDay(date, ex.label())}
	}
	day := date.Weekday()
	rules := snap.availableRules(day)
	if len(rules) == 0 {
		return []AvailabilitySlot{wholeDay(date, reasonNotWorking)}
	}

	modified, _, hasModified := modifiedHours(snap.schedule.Exceptions, date)
	breaks := snap.breaksOn(day)
	booked := snap.appointmentsOn(date)

	var out []AvailabilitySlot
	for _, rule := range rules {
		for _, slot := range GenerateTimeSlots(rule.StartTime, rule.EndTime, slotMinutes) {
			reason := slotConflict(slot, modified, hasModified, breaks, booked)
			out = append(out, AvailabilitySlot{
				Date:        date,
				StartTime:   slot.Start,
				EndTime:     slot.End,
				IsAvailable: reason == "",
				Reason:      reason,
			})
		}
	}
	return out
}

// slotConflict returns the first reason the slot cannot be booked, or "".
func slotConflict(slot TimeRange, modified TimeRange, hasModified bool, breaks []BreakPeriod, booked []bookedSpan) string {
	if hasModified && !Contains(modified.Start, modified.End, slot.Start, slot.End) {
		return reasonOutsideHours
	}
	for _, b := range breaks {
		if Overlaps(slot.Start, slot.End, b.StartTime, b.EndTime) {
			return b.label()
		}
	}
	for _, a := range booked {
		if Overlaps(slot.Start, slot.End, a.start, a.end) {
			return reasonBooked
		}
	}
	return ""
}

// ListProviders returns the active, verified providers the aggregate view
// covers.
func (e *Engine) ListProviders(ctx context.Context) ([]ProviderSummary, error) {
	providers, err := e.loadProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := []ProviderSummary{}
	for _, p := range providers {
		if p.IsActive && p.IsVerified {
			out = append(out, p)
		}
	}
	return out, nil
}

// ComputeAllAvailability aggregates availability across active, verified
// providers. A provider without a default schedule is skipped; any other
// per-provider failure contributes no slots. Only a failure to list the
// providers, or cancellation of ctx, fails the whole call.
func (e *Engine) ComputeAllAvailability(ctx context.Context, startDate, endDate Date, slotMinutes int) ([]AvailabilitySlot, error) {
	if err := e.validateRange(startDate, endDate, slotMinutes); err != nil {
		return nil, err
	}
	ctx, span := e.startSpan(ctx, "ComputeAllAvailability",
		attribute.String("range.start", startDate.String()),
		attribute.String("range.end", endDate.String()),
	)
	began := time.Now()
	slots, err := e.allAvailability(ctx, startDate, endDate, slotMinutes)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.ObserveAvailability("all", len(slots), time.Since(began))
	return slots, nil
}

func (e *Engine) allAvailability(ctx context.Context, startDate, endDate Date, slotMinutes int) ([]AvailabilitySlot, error) {
	eligible, err := e.ListProviders(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]AvailabilitySlot, len(eligible))
	var g errgroup.Group
	g.SetLimit(e.opts.AvailabilityWorkers)
	for i, p := range eligible {
		i, p := i, p
		g.Go(func() error {
			slots, err := e.providerAvailability(ctx, p.ID, startDate, endDate, slotMinutes)
			switch {
			case err == nil:
			case errors.Is(err, ErrScheduleNotFound):
				e.logger.Info().Str("provider_id", p.ID.String()).Msg("provider has no active default schedule, skipping")
				return nil
			default:
				e.logger.Warn().Err(err).Str("provider_id", p.ID.String()).Msg("provider availability failed, contributing no slots")
				return nil
			}
			id := p.ID
			for j := range slots {
				slots[j].ProviderID = &id
				slots[j].ProviderName = p.Name
			}
			results[i] = slots
			return nil
		})
	}
	_ = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, e.indeterminate("compute_all_availability", ctxErr)
	}

	out := []AvailabilitySlot{}
	for _, r := range results {
		out = append(out, r...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ProviderName < b.ProviderName
	})
	return out, nil
}
