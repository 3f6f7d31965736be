package scheduling

// TimeRange is a half-open [Start, End) window within a single day.
type TimeRange struct {
	Start ClockTime `json:"start_time"`
	End   ClockTime `json:"end_time"`
}

// GenerateTimeSlots partitions [start, end) into contiguous slots of
// durationMinutes. A trailing remainder shorter than the duration is dropped.
// A non-positive duration or a window shorter than one slot yields no slots.
func GenerateTimeSlots(start, end ClockTime, durationMinutes int) []TimeRange {
	if durationMinutes <= 0 || end <= start {
		return nil
	}
	slots := make([]TimeRange, 0, (end-start).Minutes()/durationMinutes)
	for s := start; s.Add(durationMinutes) <= end; s = s.Add(durationMinutes) {
		slots = append(slots, TimeRange{Start: s, End: s.Add(durationMinutes)})
	}
	return slots
}
