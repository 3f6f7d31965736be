package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleRepository is the read port the engine evaluates against. It never
// writes; appointment persistence belongs to the booking collaborator.
type ScheduleRepository interface {
	// GetActiveDefaultSchedule returns the provider's active default schedule
	// with its rules, breaks and the exceptions dated within [from, to].
	// It returns ErrScheduleNotFound when there is none.
	GetActiveDefaultSchedule(ctx context.Context, providerID uuid.UUID, from, to Date) (*ProviderSchedule, error)
	// GetSchedule returns a schedule header without nested rules.
	GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*ProviderSchedule, error)
	GetAppointments(ctx context.Context, q AppointmentQuery) ([]Appointment, error)
	ListActiveProviders(ctx context.Context) ([]ProviderSummary, error)
}

// CacheInvalidator is implemented by repositories that hold schedule
// snapshots and must drop them when a provider's schedule changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, providerID uuid.UUID) error
}
