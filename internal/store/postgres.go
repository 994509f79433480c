package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/attendance-ingest/internal/ingest"
	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// Check types recorded on attendance_record.
const (
	CheckFace = "face"
	CheckCard = "card"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore turns validated reading batches into attendance rows.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return NewWithDB(pool), nil
}

// NewWithDB wraps an existing pool or a test double.
func NewWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.db.Close()
}

type student struct {
	id        int64
	name      string
	studentNo string
	classID   int64
}

type attendanceRow struct {
	st             student
	deviceID       int64
	attendanceTime time.Time
	attendanceType string
	checkType      string
	photoURL       string
	remark         string
}

const insertRecordSQL = `
	INSERT INTO attendance_record(
		record_id, student_id, student_name, student_no, class_id, device_id,
		attendance_time, attendance_type, check_type, photo_url, status, remark)
	VALUES ($1,$2,$3,$4,NULLIF($5,0),NULLIF($6,0),$7,$8,$9,NULLIF($10,''),'normal',NULLIF($11,''))
	ON CONFLICT (student_id, attendance_time, check_type, attendance_type) DO NOTHING`

// ProcessFaceBatch logs every recognition attempt and records attendance for
// successful student matches. The whole batch commits or fails together.
func (p *PostgresStore) ProcessFaceBatch(ctx context.Context, readings []models.FaceReading) error {
	if len(readings) == 0 {
		return nil
	}
	now := p.now()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("face batch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	logRows := make([][]any, 0, len(readings))
	for _, r := range readings {
		logRows = append(logRows, []any{
			r.DeviceID, r.PersonType, r.PersonID, r.Score, r.Success,
			r.PhotoURL, r.AttendanceTime.OrNow(now), r.Remark,
		})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"face_recognition_log"},
		[]string{"device_id", "person_type", "person_id", "score", "success", "photo_url", "occurred_at", "remark"},
		pgx.CopyFromRows(logRows),
	); err != nil {
		return fmt.Errorf("face batch: copy recognition log: %w", err)
	}

	var matched []models.FaceReading
	for _, r := range readings {
		if r.Success && strings.EqualFold(r.PersonType, models.PersonStudent) {
			matched = append(matched, r)
		}
	}
	if len(matched) > 0 {
		nos := make([]string, 0, len(matched))
		for _, r := range matched {
			nos = append(nos, r.PersonID)
		}
		students, err := studentsByNo(ctx, tx, nos)
		if err != nil {
			return fmt.Errorf("face batch: %w", err)
		}

		rows := make([]attendanceRow, 0, len(matched))
		for _, r := range matched {
			st, ok := students[r.PersonID]
			if !ok {
				continue
			}
			rows = append(rows, attendanceRow{
				st:             st,
				deviceID:       r.DeviceID,
				attendanceTime: r.AttendanceTime.OrNow(now),
				attendanceType: models.AttendanceTypeOrDefault(r.AttendanceType),
				checkType:      CheckFace,
				photoURL:       r.PhotoURL,
				remark:         r.Remark,
			})
		}
		if err := insertRecords(ctx, tx, rows); err != nil {
			return fmt.Errorf("face batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("face batch: commit: %w", err)
	}
	return nil
}

// ProcessCardBatch records attendance for swipes of active student cards.
func (p *PostgresStore) ProcessCardBatch(ctx context.Context, readings []models.CardReading) error {
	if len(readings) == 0 {
		return nil
	}
	now := p.now()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("card batch: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cardNos := make([]string, 0, len(readings))
	for _, r := range readings {
		cardNos = append(cardNos, r.CardNo)
	}
	holders, err := studentHoldersByCard(ctx, tx, cardNos)
	if err != nil {
		return fmt.Errorf("card batch: %w", err)
	}

	if len(holders) > 0 {
		studentNos := make([]string, 0, len(holders))
		for _, no := range holders {
			studentNos = append(studentNos, no)
		}
		students, err := studentsByNo(ctx, tx, studentNos)
		if err != nil {
			return fmt.Errorf("card batch: %w", err)
		}

		rows := make([]attendanceRow, 0, len(readings))
		for _, r := range readings {
			st, ok := students[holders[r.CardNo]]
			if !ok {
				continue
			}
			rows = append(rows, attendanceRow{
				st:             st,
				deviceID:       r.DeviceID,
				attendanceTime: r.AttendanceTime.OrNow(now),
				attendanceType: models.AttendanceTypeOrDefault(r.AttendanceType),
				checkType:      CheckCard,
				remark:         r.Remark,
			})
		}
		if err := insertRecords(ctx, tx, rows); err != nil {
			return fmt.Errorf("card batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("card batch: commit: %w", err)
	}
	return nil
}

// studentsByNo resolves student numbers in one round trip.
func studentsByNo(ctx context.Context, tx pgx.Tx, nos []string) (map[string]student, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, student_no, COALESCE(class_id, 0)
		FROM student
		WHERE student_no = ANY($1)
	`, nos)
	if err != nil {
		return nil, fmt.Errorf("lookup students: %w", err)
	}
	defer rows.Close()

	out := make(map[string]student, len(nos))
	for rows.Next() {
		var s student
		if err := rows.Scan(&s.id, &s.name, &s.studentNo, &s.classID); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out[s.studentNo] = s
	}
	return out, rows.Err()
}

// studentHoldersByCard maps card_no -> holder student number for student-held cards.
func studentHoldersByCard(ctx context.Context, tx pgx.Tx, cardNos []string) (map[string]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT card_no, holder_id
		FROM card
		WHERE card_no = ANY($1)
		  AND UPPER(holder_type) = 'STUDENT'
		  AND holder_id IS NOT NULL
	`, cardNos)
	if err != nil {
		return nil, fmt.Errorf("lookup cards: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(cardNos))
	for rows.Next() {
		var cardNo, holder string
		if err := rows.Scan(&cardNo, &holder); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out[cardNo] = holder
	}
	return out, rows.Err()
}

// insertRecords writes attendance rows; an existing (student, time, check, type)
// row makes the insert a no-op.
func insertRecords(ctx context.Context, tx pgx.Tx, rows []attendanceRow) error {
	for _, r := range rows {
		if _, err := tx.Exec(ctx, insertRecordSQL,
			uuid.New(), r.st.id, r.st.name, r.st.studentNo, r.st.classID, r.deviceID,
			r.attendanceTime, r.attendanceType, r.checkType, r.photoURL, r.remark,
		); err != nil {
			return fmt.Errorf("insert attendance record for %s: %w", r.st.studentNo, err)
		}
	}
	return nil
}

// CountRecords returns the number of attendance records in [from,to),
// optionally restricted to one check type.
func (p *PostgresStore) CountRecords(ctx context.Context, checkType string, from, to time.Time) (int64, error) {
	if !from.Before(to) {
		return 0, errors.New("from must be before to")
	}

	var count int64
	err := p.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM attendance_record
		WHERE ($1 = '' OR check_type = $1)
		  AND attendance_time >= $2
		  AND attendance_time <  $3
	`, checkType, from, to).Scan(&count)

	return count, err
}

var _ ingest.BatchDispatcher = (*PostgresStore)(nil)
