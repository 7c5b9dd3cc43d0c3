package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rmanoop25/Facility360-sub001/internal/platform/db"
	engine "github.com/rmanoop25/Facility360-sub001/internal/platform/scheduling"
)

const microsPerMinute = int64(time.Minute / time.Microsecond)

func pgTime(t engine.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * microsPerMinute, Valid: true}
}

func pgTimePtr(t *engine.TimeOfDay) pgtype.Time {
	if t == nil {
		return pgtype.Time{}
	}
	return pgTime(*t)
}

func fromPGTime(t pgtype.Time) engine.TimeOfDay {
	return engine.TimeOfDay(t.Microseconds / microsPerMinute)
}

func pgDate(d engine.Date) pgtype.Date {
	if d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time(), Valid: true}
}

// mapErr translates driver errors into the engine's taxonomy.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return engine.ErrNotFound
	case db.IsRetryable(err):
		return fmt.Errorf("%w: %v", engine.ErrConcurrencyConflict, err)
	case db.IsUniqueViolation(err, "extension_request_one_pending"):
		return engine.ErrExtensionPending
	}
	return err
}

// =========== Day Locker ===========

type dayLocker struct {
	timeout time.Duration
}

// NewDayLocker serializes writers per (provider, date) with transaction-scoped
// advisory locks on the request's facility connection.
func NewDayLocker(timeout time.Duration) engine.Locker { return &dayLocker{timeout: timeout} }

func dayLockKeys(providerID uuid.UUID, dates []engine.Date) []string {
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, fmt.Sprintf("provider:%s:%s", providerID, d))
	}
	return keys
}

func (l *dayLocker) WithProviderDays(ctx context.Context, providerID uuid.UUID, dates []engine.Date, fn func(ctx context.Context) error) error {
	return mapErr(db.RunInTx(ctx, func(ctx context.Context) error {
		if err := db.LockKeys(ctx, l.timeout, dayLockKeys(providerID, dates)...); err != nil {
			return err
		}
		return fn(ctx)
	}))
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const slotCols = `id, provider_id, day_of_week, start_time, end_time, is_active, created_at, updated_at`

func (r *slotRepoPG) scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	var start, end pgtype.Time
	if err := row.Scan(&s.ID, &s.ProviderID, &s.DayOfWeek, &start, &end, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	s.StartTime, s.EndTime = fromPGTime(start), fromPGTime(end)
	return &s, nil
}

func (r *slotRepoPG) collect(rows pgx.Rows) ([]*TimeSlot, error) {
	defer rows.Close()
	var items []*TimeSlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, mapErr(rows.Err())
}

func (r *slotRepoPG) Create(ctx context.Context, s *TimeSlot) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO time_slot (id, provider_id, day_of_week, start_time, end_time, is_active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		s.ID, s.ProviderID, s.DayOfWeek, pgTime(s.StartTime), pgTime(s.EndTime), s.IsActive,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapErr(err)
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM time_slot WHERE id = $1`, id))
}

func (r *slotRepoPG) Update(ctx context.Context, s *TimeSlot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE time_slot SET day_of_week=$2, start_time=$3, end_time=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.DayOfWeek, pgTime(s.StartTime), pgTime(s.EndTime), s.IsActive,
	).Scan(&s.UpdatedAt)
	return mapErr(err)
}

func (r *slotRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, activeOnly bool, limit, offset int) ([]*TimeSlot, int, error) {
	where := ` WHERE provider_id = $1`
	if activeOnly {
		where += ` AND is_active`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM time_slot`+where, providerID).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM time_slot`+where+
		` ORDER BY day_of_week, start_time LIMIT $2 OFFSET $3`, providerID, limit, offset)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *slotRepoPG) FindWindow(ctx context.Context, providerID uuid.UUID, day int, start, end engine.TimeOfDay) (*TimeSlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM time_slot
		WHERE provider_id = $1 AND day_of_week = $2 AND start_time = $3 AND end_time = $4
		ORDER BY is_active DESC, created_at LIMIT 1`,
		providerID, day, pgTime(start), pgTime(end)))
}

func (r *slotRepoPG) DeactivateExcept(ctx context.Context, providerID uuid.UUID, keep []uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE time_slot SET is_active = FALSE, updated_at = NOW()
		WHERE provider_id = $1 AND is_active AND NOT (id = ANY($2))`, providerID, keep)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) ListActiveSlots(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) ([]engine.Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM time_slot
		WHERE provider_id = $1 AND day_of_week = $2 AND is_active
		ORDER BY start_time, end_time`, providerID, int(weekday))
	if err != nil {
		return nil, mapErr(err)
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Slot, 0, len(items))
	for _, s := range items {
		out = append(out, s.ToEngine())
	}
	return out, nil
}

func (r *slotRepoPG) GetSlots(ctx context.Context, ids []uuid.UUID) ([]engine.Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM time_slot WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapErr(err)
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Slot, 0, len(items))
	for _, s := range items {
		out = append(out, s.ToEngine())
	}
	return out, nil
}

// =========== Assignment Repository ===========

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

func (r *assignmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const assignmentCols = `id, provider_id, issue_id, status, allocated_duration_minutes,
	approved_extension_minutes, started_at, held_at, resumed_at, finished_at, completed_at,
	cancelled_at, version, created_at, updated_at`

func (r *assignmentRepoPG) scanAssignment(row pgx.Row) (*engine.Booking, error) {
	var b engine.Booking
	var status string
	err := row.Scan(&b.ID, &b.ProviderID, &b.IssueID, &status, &b.AllocatedDurationMinutes,
		&b.ApprovedExtensionMinutes, &b.StartedAt, &b.HeldAt, &b.ResumedAt, &b.FinishedAt, &b.CompletedAt,
		&b.CancelledAt, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	b.Status = engine.Status(status)
	return &b, nil
}

// summary holds the denormalized columns derived from an assignment's segments.
type summary struct {
	startDate, endDate pgtype.Date
	occStart, occEnd   pgtype.Time
}

func summarize(segs []engine.Segment) summary {
	var s summary
	if span := engine.Bounding(segs); span != nil {
		s.startDate, s.endDate = pgDate(span.StartDate), pgDate(span.EndDate)
	}
	if r := engine.CollapseSegments(segs); r != nil {
		s.occStart, s.occEnd = pgTime(r.Start), pgTime(r.End)
	}
	return s
}

func (r *assignmentRepoPG) insertSegments(ctx context.Context, b *engine.Booking) error {
	batch := &pgx.Batch{}
	for _, s := range b.Segments {
		batch.Queue(`INSERT INTO assignment_segment (id, assignment_id, provider_id, slot_id, date, start_time, end_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			uuid.New(), b.ID, b.ProviderID, s.SlotID, pgDate(s.Date), pgTime(s.Start), pgTime(s.End))
	}
	q := r.conn(ctx)
	sender, ok := q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return fmt.Errorf("connection does not support batches")
	}
	return mapErr(sender.SendBatch(ctx, batch).Close())
}

func (r *assignmentRepoPG) CreateBooking(ctx context.Context, b *engine.Booking) error {
	sum := summarize(b.Segments)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO assignment (id, provider_id, issue_id, status, scheduled_date, scheduled_end_date,
			occupied_start, occupied_end, allocated_duration_minutes, approved_extension_minutes,
			version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		b.ID, b.ProviderID, b.IssueID, string(b.Status), sum.startDate, sum.endDate,
		sum.occStart, sum.occEnd, b.AllocatedDurationMinutes, b.ApprovedExtensionMinutes,
		b.Version, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	return r.insertSegments(ctx, b)
}

func (r *assignmentRepoPG) loadSegments(ctx context.Context, bookings ...*engine.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(bookings))
	byID := make(map[uuid.UUID]*engine.Booking, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
		byID[b.ID] = b
		b.Segments = []engine.Segment{}
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT assignment_id, slot_id, date, start_time, end_time
		FROM assignment_segment WHERE assignment_id = ANY($1)
		ORDER BY date, start_time`, ids)
	if err != nil {
		return mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var assignmentID uuid.UUID
		var seg engine.Segment
		var date time.Time
		var start, end pgtype.Time
		if err := rows.Scan(&assignmentID, &seg.SlotID, &date, &start, &end); err != nil {
			return mapErr(err)
		}
		seg.Date = engine.DateOf(date)
		seg.Start, seg.End = fromPGTime(start), fromPGTime(end)
		if b, ok := byID[assignmentID]; ok {
			b.Segments = append(b.Segments, seg)
		}
	}
	return mapErr(rows.Err())
}

func (r *assignmentRepoPG) GetBooking(ctx context.Context, id uuid.UUID) (*engine.Booking, error) {
	b, err := r.scanAssignment(r.conn(ctx).QueryRow(ctx, `SELECT `+assignmentCols+` FROM assignment WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadSegments(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *assignmentRepoPG) ListActiveOccupancy(ctx context.Context, providerID uuid.UUID, date engine.Date) ([]engine.Occupancy, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.assignment_id, s.start_time, s.end_time
		FROM assignment_segment s
		JOIN assignment a ON a.id = s.assignment_id
		WHERE s.provider_id = $1 AND s.date = $2 AND a.status <> 'cancelled'
		ORDER BY s.start_time`, providerID, pgDate(date))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []engine.Occupancy
	for rows.Next() {
		var o engine.Occupancy
		var start, end pgtype.Time
		if err := rows.Scan(&o.BookingID, &start, &end); err != nil {
			return nil, mapErr(err)
		}
		o.Start, o.End = fromPGTime(start), fromPGTime(end)
		out = append(out, o)
	}
	return out, mapErr(rows.Err())
}

func (r *assignmentRepoPG) UpdateSchedule(ctx context.Context, b *engine.Booking, expectedVersion int) error {
	sum := summarize(b.Segments)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE assignment SET scheduled_date=$3, scheduled_end_date=$4, occupied_start=$5, occupied_end=$6,
			allocated_duration_minutes=$7, approved_extension_minutes=$8, version=version+1, updated_at=$9
		WHERE id = $1 AND version = $2`,
		b.ID, expectedVersion, sum.startDate, sum.endDate, sum.occStart, sum.occEnd,
		b.AllocatedDurationMinutes, b.ApprovedExtensionMinutes, b.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConcurrencyConflict
	}
	b.Version = expectedVersion + 1
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM assignment_segment WHERE assignment_id = $1`, b.ID); err != nil {
		return mapErr(err)
	}
	return r.insertSegments(ctx, b)
}

func (r *assignmentRepoPG) UpdateStatus(ctx context.Context, b *engine.Booking, expectedVersion int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE assignment SET status=$3, started_at=$4, held_at=$5, resumed_at=$6, finished_at=$7,
			completed_at=$8, cancelled_at=$9, version=version+1, updated_at=$10
		WHERE id = $1 AND version = $2`,
		b.ID, expectedVersion, string(b.Status), b.StartedAt, b.HeldAt, b.ResumedAt, b.FinishedAt,
		b.CompletedAt, b.CancelledAt, b.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConcurrencyConflict
	}
	b.Version = expectedVersion + 1
	return nil
}

func (r *assignmentRepoPG) List(ctx context.Context, f AssignmentFilter, limit, offset int) ([]*engine.Booking, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.ProviderID != nil {
		where += fmt.Sprintf(` AND provider_id = $%d`, idx)
		args = append(args, *f.ProviderID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if !f.From.IsZero() {
		where += fmt.Sprintf(` AND scheduled_end_date >= $%d`, idx)
		args = append(args, pgDate(f.From))
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(` AND scheduled_date <= $%d`, idx)
		args = append(args, pgDate(f.To))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM assignment`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	query := `SELECT ` + assignmentCols + ` FROM assignment` + where +
		fmt.Sprintf(` ORDER BY scheduled_date, created_at LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	var items []*engine.Booking
	for rows.Next() {
		b, err := r.scanAssignment(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr(err)
	}
	if err := r.loadSegments(ctx, items...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// =========== Extension Repository ===========

type extensionRepoPG struct{ pool *pgxpool.Pool }

func NewExtensionRepoPG(pool *pgxpool.Pool) ExtensionRepository {
	return &extensionRepoPG{pool: pool}
}

func (r *extensionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const extensionCols = `id, assignment_id, requested_minutes, reason, status, created_at, decided_at`

func (r *extensionRepoPG) scanExtension(row pgx.Row) (*engine.ExtensionRequest, error) {
	var x engine.ExtensionRequest
	var status string
	if err := row.Scan(&x.ID, &x.AssignmentID, &x.RequestedMinutes, &x.Reason, &status, &x.CreatedAt, &x.DecidedAt); err != nil {
		return nil, mapErr(err)
	}
	x.Status = engine.ExtensionStatus(status)
	return &x, nil
}

func (r *extensionRepoPG) CreateExtension(ctx context.Context, x *engine.ExtensionRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO extension_request (id, assignment_id, requested_minutes, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		x.ID, x.AssignmentID, x.RequestedMinutes, x.Reason, string(x.Status), x.CreatedAt)
	return mapErr(err)
}

func (r *extensionRepoPG) GetExtension(ctx context.Context, id uuid.UUID) (*engine.ExtensionRequest, error) {
	return r.scanExtension(r.conn(ctx).QueryRow(ctx, `SELECT `+extensionCols+` FROM extension_request WHERE id = $1`, id))
}

func (r *extensionRepoPG) PendingExtension(ctx context.Context, assignmentID uuid.UUID) (*engine.ExtensionRequest, error) {
	x, err := r.scanExtension(r.conn(ctx).QueryRow(ctx, `SELECT `+extensionCols+` FROM extension_request
		WHERE assignment_id = $1 AND status = 'pending'`, assignmentID))
	if errors.Is(err, engine.ErrNotFound) {
		return nil, nil
	}
	return x, err
}

func (r *extensionRepoPG) DecideExtension(ctx context.Context, x *engine.ExtensionRequest) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE extension_request SET status = $2, decided_at = $3
		WHERE id = $1 AND status = 'pending'`, x.ID, string(x.Status), x.DecidedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConcurrencyConflict
	}
	return nil
}

func (r *extensionRepoPG) ListByAssignment(ctx context.Context, assignmentID uuid.UUID) ([]*engine.ExtensionRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+extensionCols+` FROM extension_request
		WHERE assignment_id = $1 ORDER BY created_at`, assignmentID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var items []*engine.ExtensionRequest
	for rows.Next() {
		x, err := r.scanExtension(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, x)
	}
	return items, mapErr(rows.Err())
}
