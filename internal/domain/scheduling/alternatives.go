package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// FindAlternatives returns up to maxAlternatives bookable slots of the given
// duration, searching forward from preferredDate (inclusive) over the
// configured horizon. Slots already in the past are skipped. A non-positive
// maxAlternatives uses the configured default.
func (e *Engine) FindAlternatives(ctx context.Context, providerID uuid.UUID, preferredDate Date, durationMinutes, maxAlternatives int) ([]AlternativeSlot, error) {
	if durationMinutes <= 0 {
		return nil, invalidf("duration must be positive, got %d", durationMinutes)
	}
	if preferredDate.IsZero() {
		return nil, invalidf("date is required")
	}
	if maxAlternatives <= 0 {
		maxAlternatives = e.opts.MaxAlternatives
	}
	ctx, span := e.startSpan(ctx, "FindAlternatives",
		attribute.String("provider.id", providerID.String()),
		attribute.String("preferred_date", preferredDate.String()),
	)
	alts, err := e.findAlternatives(ctx, providerID, preferredDate, durationMinutes, maxAlternatives)
	endSpan(span, err)
	return alts, err
}

func (e *Engine) findAlternatives(ctx context.Context, providerID uuid.UUID, preferredDate Date, durationMinutes, maxAlternatives int) ([]AlternativeSlot, error) {
	horizon := e.opts.AlternativeHorizonDays
	sched, err := e.loadDefaultSchedule(ctx, providerID, preferredDate, preferredDate.AddDays(horizon-1))
	if err != nil {
		return nil, err
	}
	loc := sched.Location()
	appts, err := e.loadAppointments(ctx, providerID, preferredDate.In(loc), preferredDate.AddDays(horizon).In(loc))
	if err != nil {
		return nil, err
	}
	snap := newSnapshot(sched, appts)
	return findAlternatives(snap, preferredDate, durationMinutes, maxAlternatives, horizon, e.opts.Now(), e.opts.BufferMinutes, nil), nil
}

// findAlternatives walks candidate slots day by day, then by start time, and
// keeps those the conflict evaluation accepts.
func findAlternatives(snap *snapshot, from Date, durationMinutes, limit, horizon int, now time.Time, bufferMinutes int, exclude *uuid.UUID) []AlternativeSlot {
	out := []AlternativeSlot{}
	for i := 0; i < horizon && len(out) < limit; i++ {
		date := from.AddDays(i)
		for _, c := range candidates(snap.availableRules(date.Weekday()), durationMinutes) {
			if date.At(c.Start, snap.loc).Before(now) {
				continue
			}
			w := bookingWindow{date: date, start: c.Start, end: c.End}
			if !evaluateBooking(snap, w, bufferMinutes, exclude).IsValid {
				continue
			}
			out = append(out, AlternativeSlot{Date: date, StartTime: c.Start, EndTime: c.End})
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// candidates generates the day's slots across all rules in start order
// without duplicates.
func candidates(rules []WeeklyAvailabilityRule, durationMinutes int) []TimeRange {
	seen := make(map[TimeRange]bool)
	var out []TimeRange
	for _, r := range rules {
		for _, s := range GenerateTimeSlots(r.StartTime, r.EndTime, durationMinutes) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
