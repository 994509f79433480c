package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/attendance-ingest/internal/models"
)

var faceLogColumns = []string{"device_id", "person_type", "person_id", "score", "success", "photo_url", "occurred_at", "remark"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := NewWithDB(mock)
	s.now = func() time.Time { return time.Date(2025, 10, 25, 8, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestProcessFaceBatch_LogsAllAndRecordsMatchedStudents(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2025, 10, 25, 7, 55, 0, 0, time.UTC)

	readings := []models.FaceReading{
		{DeviceID: 3, PersonType: "student", PersonID: "S1", Success: true, Score: 0.97, AttendanceTime: models.NewTimestamp(at)},
		{DeviceID: 3, PersonType: "STUDENT", PersonID: "S2", Success: false, Score: 0.31},
		{DeviceID: 3, PersonType: models.PersonTeacher, PersonID: "T1", Success: true},
		{DeviceID: 3, PersonType: models.PersonStudent, PersonID: "GHOST", Success: true},
	}

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"face_recognition_log"}, faceLogColumns).WillReturnResult(4)
	mock.ExpectQuery("SELECT id, name, student_no").
		WithArgs([]string{"S1", "GHOST"}).
		WillReturnRows(mock.NewRows([]string{"id", "name", "student_no", "class_id"}).
			AddRow(int64(11), "Ana", "S1", int64(7)))
	mock.ExpectExec("INSERT INTO attendance_record").
		WithArgs(pgxmock.AnyArg(), int64(11), "Ana", "S1", int64(7), int64(3), at, models.AttendanceIn, CheckFace, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.ProcessFaceBatch(context.Background(), readings))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFaceBatch_NoMatchesSkipsLookup(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"face_recognition_log"}, faceLogColumns).WillReturnResult(1)
	mock.ExpectCommit()

	err := s.ProcessFaceBatch(context.Background(), []models.FaceReading{
		{PersonType: models.PersonStudent, PersonID: "S9", Success: false},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFaceBatch_CopyFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"face_recognition_log"}, faceLogColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.ProcessFaceBatch(context.Background(), []models.FaceReading{
		{PersonType: models.PersonStudent, PersonID: "S1", Success: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFaceBatch_EmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	require.NoError(t, s.ProcessFaceBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCardBatch_ResolvesHolderThenStudent(t *testing.T) {
	s, mock := newMockStore(t)
	defaultTime := s.now()

	readings := []models.CardReading{
		{DeviceID: 5, CardNo: "C-1", AttendanceType: models.AttendanceOut},
		{DeviceID: 5, CardNo: "C-unknown"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT card_no, holder_id").
		WithArgs([]string{"C-1", "C-unknown"}).
		WillReturnRows(mock.NewRows([]string{"card_no", "holder_id"}).AddRow("C-1", "S1"))
	mock.ExpectQuery("SELECT id, name, student_no").
		WithArgs([]string{"S1"}).
		WillReturnRows(mock.NewRows([]string{"id", "name", "student_no", "class_id"}).
			AddRow(int64(11), "Ana", "S1", int64(0)))
	mock.ExpectExec("INSERT INTO attendance_record").
		WithArgs(pgxmock.AnyArg(), int64(11), "Ana", "S1", int64(0), int64(5), defaultTime, models.AttendanceOut, CheckCard, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.ProcessCardBatch(context.Background(), readings))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCardBatch_InsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT card_no, holder_id").
		WithArgs([]string{"C-1"}).
		WillReturnRows(mock.NewRows([]string{"card_no", "holder_id"}).AddRow("C-1", "S1"))
	mock.ExpectQuery("SELECT id, name, student_no").
		WithArgs([]string{"S1"}).
		WillReturnRows(mock.NewRows([]string{"id", "name", "student_no", "class_id"}).
			AddRow(int64(11), "Ana", "S1", int64(7)))
	mock.ExpectExec("INSERT INTO attendance_record").
		WithArgs(pgxmock.AnyArg(), int64(11), "Ana", "S1", int64(7), int64(0), s.now(), models.AttendanceIn, CheckCard, "", "").
		WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := s.ProcessCardBatch(context.Background(), []models.CardReading{{CardNo: "C-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFaceBatch_InsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"face_recognition_log"}, faceLogColumns).WillReturnResult(1)
	mock.ExpectQuery("SELECT id, name, student_no").
		WithArgs([]string{"S1"}).
		WillReturnRows(mock.NewRows([]string{"id", "name", "student_no", "class_id"}).
			AddRow(int64(11), "Ana", "S1", int64(7)))
	mock.ExpectExec("INSERT INTO attendance_record").
		WithArgs(pgxmock.AnyArg(), int64(11), "Ana", "S1", int64(7), int64(2), s.now(), models.AttendanceIn, CheckFace, "p.jpg", "").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.ProcessFaceBatch(context.Background(), []models.FaceReading{
		{DeviceID: 2, PersonType: models.PersonStudent, PersonID: "S1", Success: true, PhotoURL: "p.jpg"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRecords(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(CheckFace, from, to).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := s.CountRecords(context.Background(), CheckFace, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRecords_RejectsEmptyWindow(t *testing.T) {
	s, _ := newMockStore(t)
	now := time.Now()

	_, err := s.CountRecords(context.Background(), "", now, now)
	require.Error(t, err)
}

func TestPingAndSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS student").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
