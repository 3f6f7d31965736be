package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telehealth/scheduler/internal/platform/db"
)

type scheduleRepoPG struct {
	db      db.Querier
	dialect goqu.DialectWrapper
}

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository {
	return newScheduleRepoPG(pool)
}

func newScheduleRepoPG(q db.Querier) *scheduleRepoPG {
	return &scheduleRepoPG{db: q, dialect: goqu.Dialect("postgres")}
}

// conn prefers the snapshot transaction bound to ctx.
func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.db
}

const scheduleCols = `id, provider_id, name, is_active, is_default, timezone`

func scanSchedule(row pgx.Row) (*ProviderSchedule, error) {
	var s ProviderSchedule
	err := row.Scan(&s.ID, &s.ProviderID, &s.Name, &s.IsActive, &s.IsDefault, &s.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}

func (r *scheduleRepoPG) GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*ProviderSchedule, error) {
	return scanSchedule(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM provider_schedule WHERE id = $1`, scheduleID))
}

func (r *scheduleRepoPG) GetActiveDefaultSchedule(ctx context.Context, providerID uuid.UUID, from, to Date) (*ProviderSchedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `
		SELECT `+scheduleCols+` FROM provider_schedule
		WHERE provider_id = $1 AND is_active AND is_default
		ORDER BY updated_at DESC LIMIT 1`, providerID))
	if err != nil {
		return nil, err
	}
	if s.WeeklyRules, err = r.listRules(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Breaks, err = r.listBreaks(ctx, s.ID); err != nil {
		return nil, err
	}
	if s.Exceptions, err = r.listExceptions(ctx, s.ID, from, to); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *scheduleRepoPG) listRules(ctx context.Context, scheduleID uuid.UUID) ([]WeeklyAvailabilityRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, schedule_id, day_of_week, is_available, start_time, end_time
		FROM weekly_availability_rule WHERE schedule_id = $1
		ORDER BY day_of_week, start_time`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query weekly rules: %w", err)
	}
	defer rows.Close()

	var out []WeeklyAvailabilityRule
	for rows.Next() {
		var (
			rule       WeeklyAvailabilityRule
			day        int
			start, end string
		)
		if err := rows.Scan(&rule.ID, &rule.ScheduleID, &day, &rule.IsAvailable, &start, &end); err != nil {
			return nil, fmt.Errorf("scan weekly rule: %w", err)
		}
		rule.DayOfWeek = Weekday(day)
		if rule.StartTime, rule.EndTime, err = parseRange(start, end); err != nil {
			return nil, fmt.Errorf("weekly rule %s: %w", rule.ID, err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *scheduleRepoPG) listBreaks(ctx context.Context, scheduleID uuid.UUID) ([]BreakPeriod, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, schedule_id, day_of_week, start_time, end_time, title, is_recurring
		FROM break_period WHERE schedule_id = $1
		ORDER BY start_time`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query breaks: %w", err)
	}
	defer rows.Close()

	var out []BreakPeriod
	for rows.Next() {
		var (
			b          BreakPeriod
			day        *int
			start, end string
		)
		if err := rows.Scan(&b.ID, &b.ScheduleID, &day, &start, &end, &b.Title, &b.IsRecurring); err != nil {
			return nil, fmt.Errorf("scan break: %w", err)
		}
		if day != nil {
			wd := Weekday(*day)
			b.DayOfWeek = &wd
		}
		if b.StartTime, b.EndTime, err = parseRange(start, end); err != nil {
			return nil, fmt.Errorf("break %s: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *scheduleRepoPG) listExceptions(ctx context.Context, scheduleID uuid.UUID, from, to Date) ([]ScheduleException, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, schedule_id, exception_date, type, start_time, end_time, title, notes
		FROM schedule_exception
		WHERE schedule_id = $1 AND exception_date BETWEEN $2 AND $3
		ORDER BY exception_date`, scheduleID, from.In(time.UTC), to.In(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer rows.Close()

	var out []ScheduleException
	for rows.Next() {
		var (
			ex         ScheduleException
			date       time.Time
			typ        string
			start, end *string
		)
		if err := rows.Scan(&ex.ID, &ex.ScheduleID, &date, &typ, &start, &end, &ex.Title, &ex.Notes); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		ex.Date = DateOf(date)
		ex.Type = ExceptionType(typ)
		if start != nil && end != nil {
			s, e, err := parseRange(*start, *end)
			if err != nil {
				return nil, fmt.Errorf("exception %s: %w", ex.ID, err)
			}
			ex.StartTime, ex.EndTime = &s, &e
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func parseRange(start, end string) (ClockTime, ClockTime, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return 0, 0, err
	}
	return s, e, nil
}

// appointmentsSQL builds the filtered appointment query.
func (r *scheduleRepoPG) appointmentsSQL(q AppointmentQuery) (string, []interface{}, error) {
	ds := r.dialect.
		From(goqu.T("appointment").As("a")).
		LeftJoin(goqu.T("patient").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("a.patient_id")))).
		Select(
			goqu.I("a.id"), goqu.I("a.provider_id"), goqu.I("a.patient_id"),
			goqu.L("COALESCE(p.full_name, '')"), goqu.I("a.schedule_id"),
			goqu.I("a.start_at"), goqu.I("a.duration_minutes"), goqu.I("a.status"),
		).
		Where(
			goqu.I("a.provider_id").Eq(q.ProviderID),
			goqu.I("a.start_at").Gte(q.From),
			goqu.I("a.start_at").Lt(q.To),
		).
		Order(goqu.I("a.start_at").Asc()).
		Prepared(true)
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		ds = ds.Where(goqu.I("a.status").In(statuses))
	}
	return ds.ToSQL()
}

func (r *scheduleRepoPG) GetAppointments(ctx context.Context, q AppointmentQuery) ([]Appointment, error) {
	query, args, err := r.appointmentsSQL(q)
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var (
			a      Appointment
			status string
		)
		if err := rows.Scan(&a.ID, &a.ProviderID, &a.PatientID, &a.PatientName, &a.ScheduleID,
			&a.Start, &a.DurationMinutes, &status); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		a.Status = AppointmentStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *scheduleRepoPG) ListActiveProviders(ctx context.Context) ([]ProviderSummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, full_name, is_active, is_verified FROM provider
		WHERE is_active ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	var out []ProviderSummary
	for rows.Next() {
		var p ProviderSummary
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.IsVerified); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
