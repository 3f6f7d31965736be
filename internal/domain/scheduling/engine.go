package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/telehealth/scheduler/internal/domain/scheduling"

// Metrics receives engine observations. A nil Metrics in Options is replaced
// by a no-op implementation.
type Metrics interface {
	ObserveBookingCheck(valid bool, elapsed time.Duration)
	ObserveAvailability(scope string, slots int, elapsed time.Duration)
	ObserveRepositoryError(op string)
	ObserveChangeValidation(affected int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBookingCheck(bool, time.Duration)        {}
func (noopMetrics) ObserveAvailability(string, int, time.Duration) {}
func (noopMetrics) ObserveRepositoryError(string)                  {}
func (noopMetrics) ObserveChangeValidation(int)                    {}

// Options tunes the engine. Zero values take the defaults below; a negative
// BufferMinutes disables buffer warnings.
type Options struct {
	BufferMinutes          int
	AlternativeHorizonDays int
	MaxAlternatives        int
	ChangeHorizonDays      int
	MaxRangeDays           int
	RepositoryTimeout      time.Duration
	AvailabilityWorkers    int
	Metrics                Metrics
	Now                    func() time.Time
}

const (
	DefaultBufferMinutes          = 15
	DefaultAlternativeHorizonDays = 7
	DefaultMaxAlternatives        = 5
	DefaultChangeHorizonDays      = 90
	DefaultMaxRangeDays           = 90
	DefaultRepositoryTimeout      = 5 * time.Second
	DefaultAvailabilityWorkers    = 8
)

func (o Options) withDefaults() Options {
	switch {
	case o.BufferMinutes == 0:
		o.BufferMinutes = DefaultBufferMinutes
	case o.BufferMinutes < 0:
		o.BufferMinutes = 0
	}
	if o.AlternativeHorizonDays <= 0 {
		o.AlternativeHorizonDays = DefaultAlternativeHorizonDays
	}
	if o.MaxAlternatives <= 0 {
		o.MaxAlternatives = DefaultMaxAlternatives
	}
	if o.ChangeHorizonDays <= 0 {
		o.ChangeHorizonDays = DefaultChangeHorizonDays
	}
	if o.MaxRangeDays <= 0 {
		o.MaxRangeDays = DefaultMaxRangeDays
	}
	if o.RepositoryTimeout <= 0 {
		o.RepositoryTimeout = DefaultRepositoryTimeout
	}
	if o.AvailabilityWorkers <= 0 {
		o.AvailabilityWorkers = DefaultAvailabilityWorkers
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine evaluates availability, booking conflicts and schedule edits over
// snapshots read from a ScheduleRepository. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	repo   ScheduleRepository
	opts   Options
	logger zerolog.Logger
	tracer trace.Tracer
}

func NewEngine(repo ScheduleRepository, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "scheduling").Logger(),
		tracer: otel.Tracer(tracerName),
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "scheduling."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// indeterminate logs a repository failure and wraps it so callers can
// distinguish it from a conflict result.
func (e *Engine) indeterminate(op string, err error) error {
	e.opts.Metrics.ObserveRepositoryError(op)
	e.logger.Error().Err(err).Str("op", op).Msg("repository read failed")
	return fmt.Errorf("%s: %w: %w", op, ErrIndeterminate, err)
}

func (e *Engine) repoContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.RepositoryTimeout)
}

func (e *Engine) loadDefaultSchedule(ctx context.Context, providerID uuid.UUID, from, to Date) (*ProviderSchedule, error) {
	rctx, cancel := e.repoContext(ctx)
	defer cancel()
	sched, err := e.repo.GetActiveDefaultSchedule(rctx, providerID, from, to)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, e.indeterminate("get_default_schedule", ctxErr)
	}
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, err
		}
		return nil, e.indeterminate("get_default_schedule", err)
	}
	if sched == nil {
		return nil, ErrScheduleNotFound
	}
	return sched, nil
}

func (e *Engine) loadSchedule(ctx context.Context, scheduleID uuid.UUID) (*ProviderSchedule, error) {
	rctx, cancel := e.repoContext(ctx)
	defer cancel()
	sched, err := e.repo.GetSchedule(rctx, scheduleID)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, e.indeterminate("get_schedule", ctxErr)
	}
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil, err
		}
		return nil, e.indeterminate("get_schedule", err)
	}
	if sched == nil {
		return nil, ErrScheduleNotFound
	}
	return sched, nil
}

func (e *Engine) loadAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rctx, cancel := e.repoContext(ctx)
	defer cancel()
	appts, err := e.repo.GetAppointments(rctx, AppointmentQuery{
		ProviderID: providerID,
		From:       from,
		To:         to,
		Statuses:   ActiveStatuses,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, e.indeterminate("get_appointments", ctxErr)
	}
	if err != nil {
		return nil, e.indeterminate("get_appointments", err)
	}
	return appts, nil
}

func (e *Engine) loadProviders(ctx context.Context) ([]ProviderSummary, error) {
	rctx, cancel := e.repoContext(ctx)
	defer cancel()
	providers, err := e.repo.ListActiveProviders(rctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, e.indeterminate("list_providers", ctxErr)
	}
	if err != nil {
		return nil, e.indeterminate("list_providers", err)
	}
	return providers, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
