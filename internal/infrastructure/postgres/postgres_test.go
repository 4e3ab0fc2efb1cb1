package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/watermark"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	a := m.Called(append([]any{sql}, args...)...)
	return a.Get(0).(pgconn.CommandTag), a.Error(1)
}

func (m *MockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	a := m.Called(append([]any{sql}, args...)...)
	rows, _ := a.Get(0).(pgx.Rows)
	return rows, a.Error(1)
}

func (m *MockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	a := m.Called(append([]any{sql}, args...)...)
	return a.Get(0).(pgx.Row)
}

type fakeRow struct {
	vals []string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		*(d.(*string)) = r.vals[i]
	}
	return nil
}

type fakeRows struct {
	rows [][]string
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return fakeRow{vals: r.rows[r.i-1]}.Scan(dest...)
}

var key = watermark.Key{ChannelID: "poznan", ServiceID: "svc-1"}

func TestWatermarkStoreGet(t *testing.T) {
	tests := []struct {
		name    string
		row     fakeRow
		want    string
		wantErr error
	}{
		{name: "stored", row: fakeRow{vals: []string{"2024-03-01"}}, want: "2024-03-01"},
		{name: "no row", row: fakeRow{err: pgx.ErrNoRows}, want: ""},
		{name: "db error", row: fakeRow{err: assert.AnError}, wantErr: internaltypes.ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(MockQuerier)
			q.On("QueryRow", mock.AnythingOfType("string"), "poznan", "svc-1").Return(tt.row)

			got, err := NewWatermarkStore(q, nil).Get(context.Background(), key)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			q.AssertExpectations(t)
		})
	}
}

func TestWatermarkStoreSet(t *testing.T) {
	q := new(MockQuerier)
	q.On("Exec", mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "WHERE watermarks.last_registered_date < EXCLUDED.last_registered_date")
	}), "poznan", "svc-1", "2024-03-05").Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	q.On("Exec", mock.AnythingOfType("string"), "poznan", "svc-1", "2024-02-01").Return(pgconn.NewCommandTag("INSERT 0 0"), nil).Once()

	s := NewWatermarkStore(q, nil)
	require.NoError(t, s.Set(context.Background(), key, "2024-03-05"))
	require.NoError(t, s.Set(context.Background(), key, "2024-02-01"))
	q.AssertExpectations(t)

	err := s.Set(context.Background(), key, "tomorrow")
	assert.True(t, errors.Is(err, internaltypes.ErrPersistence))
}

func TestWatermarkStoreSetFailure(t *testing.T) {
	q := new(MockQuerier)
	q.On("Exec", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, assert.AnError)

	err := NewWatermarkStore(q, nil).Set(context.Background(), key, "2024-03-05")
	assert.True(t, errors.Is(err, internaltypes.ErrPersistence))
}

func TestWatermarkStoreList(t *testing.T) {
	q := new(MockQuerier)
	q.On("Query", mock.AnythingOfType("string")).Return(&fakeRows{rows: [][]string{
		{"poznan", "svc-1", "2024-03-01"},
		{"poznan", "svc-2", "2024-03-07"},
	}}, nil)

	got, err := NewWatermarkStore(q, nil).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []watermark.Entry{
		{Key: watermark.Key{ChannelID: "poznan", ServiceID: "svc-1"}, Date: "2024-03-01"},
		{Key: watermark.Key{ChannelID: "poznan", ServiceID: "svc-2"}, Date: "2024-03-07"},
	}, got)
}

func TestJournalRecord(t *testing.T) {
	id := uuid.MustParse("0b6a2a4e-0d8c-4d0e-9e53-5a3f3c1a2b7d")
	at := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	q := new(MockQuerier)
	q.On("Exec", mock.AnythingOfType("string"), id, "run-1", "poznan", "svc-1", "2024-03-02", "09:00",
		"failed", "reserved", "r-1", "48733123456", "remote_rejection", "confirm r-1: status 409", at,
	).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	j := NewJournal(q)
	j.newID = func() uuid.UUID { return id }
	err := j.Record(context.Background(), booking.AttemptRecord{
		RunID: "run-1", ChannelID: "poznan", ServiceID: "svc-1", Date: "2024-03-02", Time: "09:00",
		State: booking.StateFailed, ReachedState: booking.StateReserved, ReservationID: "r-1",
		Phone: "48733123456", ErrorKind: "remote_rejection", Error: "confirm r-1: status 409", At: at,
	})
	require.NoError(t, err)
	q.AssertExpectations(t)
}

func TestMigrate(t *testing.T) {
	q := new(MockQuerier)
	q.On("Exec", schemaSQL).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()
	require.NoError(t, Migrate(context.Background(), q))

	q = new(MockQuerier)
	q.On("Exec", schemaSQL).Return(pgconn.CommandTag{}, assert.AnError)
	assert.True(t, errors.Is(Migrate(context.Background(), q), internaltypes.ErrPersistence))
}
