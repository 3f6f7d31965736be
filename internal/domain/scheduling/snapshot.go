package scheduling

import (
	"sort"
	"time"
)

// snapshot is the immutable view a single engine call evaluates against.
// It is read once at the start of the call and never refreshed.
type snapshot struct {
	schedule     *ProviderSchedule
	loc          *time.Location
	appointments []Appointment
}

func newSnapshot(sched *ProviderSchedule, appts []Appointment) *snapshot {
	active := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status.Occupies() {
			active = append(active, a)
		}
	}
	return &snapshot{schedule: sched, loc: sched.Location(), appointments: active}
}

// availableRules returns the day's bookable rules ordered by start time.
func (s *snapshot) availableRules(day Weekday) []WeeklyAvailabilityRule {
	return availableRules(s.schedule.WeeklyRules, day)
}

func availableRules(rules []WeeklyAvailabilityRule, day Weekday) []WeeklyAvailabilityRule {
	var out []WeeklyAvailabilityRule
	for _, r := range rules {
		if r.IsAvailable && r.DayOfWeek == day {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (s *snapshot) breaksOn(day Weekday) []BreakPeriod {
	return breaksOn(s.schedule.Breaks, day)
}

func breaksOn(breaks []BreakPeriod, day Weekday) []BreakPeriod {
	var out []BreakPeriod
	for _, b := range breaks {
		if b.AppliesTo(day) {
			out = append(out, b)
		}
	}
	return out
}

func (s *snapshot) exception(date Date, typ ExceptionType) *ScheduleException {
	return findException(s.schedule.Exceptions, date, typ)
}

func findException(exceptions []ScheduleException, date Date, typ ExceptionType) *ScheduleException {
	for i := range exceptions {
		if exceptions[i].Date == date && exceptions[i].Type == typ {
			return &exceptions[i]
		}
	}
	return nil
}

// modifiedHours returns the MODIFIED_HOURS window for the date, if any.
func modifiedHours(exceptions []ScheduleException, date Date) (TimeRange, *ScheduleException, bool) {
	ex := findException(exceptions, date, ExceptionModifiedHours)
	if ex == nil || ex.StartTime == nil || ex.EndTime == nil {
		return TimeRange{}, nil, false
	}
	return TimeRange{Start: *ex.StartTime, End: *ex.EndTime}, ex, true
}

// bookedSpan is an appointment projected onto a local day as clock offsets.
// End may run past midnight.
type bookedSpan struct {
	appt  Appointment
	start ClockTime
	end   ClockTime
}

// displayEnd is the end as reported in results. Spans that run past midnight
// are reported as ending at EndOfDay so the value always parses as HH:MM.
func (b bookedSpan) displayEnd() ClockTime {
	if b.end > EndOfDay {
		return EndOfDay
	}
	return b.end
}

// projectAppointment maps an appointment onto the local date it starts on.
func projectAppointment(a Appointment, loc *time.Location) (Date, bookedSpan) {
	local := a.Start.In(loc)
	start := ClockOf(local)
	return DateOf(local), bookedSpan{appt: a, start: start, end: start.Add(a.DurationMinutes)}
}

// appointmentsOn returns the active appointments that start on the local date.
// Appointments that start the previous day and run past midnight are not
// projected onto this date.
func (s *snapshot) appointmentsOn(date Date) []bookedSpan {
	var out []bookedSpan
	for _, a := range s.appointments {
		d, span := projectAppointment(a, s.loc)
		if d == date {
			out = append(out, span)
		}
	}
	return out
}
