package usecases

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/domain/booking/bookingtest"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	remote   *bookingtest.Remote
	notifier *bookingtest.Notifier
	journal  *bookingtest.Journal
	pauses   []time.Duration
	pipeline *Pipeline
}

func newFixture(t *testing.T, remote *bookingtest.Remote) *fixture {
	t.Helper()
	f := &fixture{remote: remote, notifier: &bookingtest.Notifier{}, journal: &bookingtest.Journal{}}
	c := clock.NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	p, err := NewPipeline(PipelineConfig{
		Email:    "bot@example.com",
		Prefixes: []string{"668"},
		Finder:   NewSlotFinder(c, discardLogger()),
		Notifier: f.notifier,
		Journal:  f.journal,
		Clock:    c,
		IntN:     func(int) int { return 0 },
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.pauses = append(f.pauses, d)
			return ctx.Err()
		},
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func target(visitsPerDay int) Target {
	return Target{
		RunID:   "run-1",
		Channel: booking.Channel{ID: "krk", Name: "Kraków", ChatID: "-100200"},
		Entry: booking.ServiceEntry{
			BranchID:     "b1",
			ServiceName:  "Paszport",
			ServiceID:    "svc-1",
			QPID:         "7",
			Adult:        1,
			VisitsPerDay: visitsPerDay,
		},
		SlotLength: 20,
	}
}

func times(date string, ts ...string) map[string][]string {
	return map[string][]string{bookingtest.TimesKey("svc-1", date): ts}
}

func TestPipelineQuotaBound(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{TimeTable: times("2024-03-02", "09:00", "09:20", "09:40", "10:00", "10:20")})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(2), []string{"2024-03-02"}, Incremental)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Confirmed)
	assert.Equal(t, "2024-03-02", res.LastSuccessDate)
	assert.Len(t, f.remote.Confirms(), 2)
	assert.Len(t, f.notifier.Visits(), 2)
	assert.Len(t, f.pauses, 1)
	for _, d := range f.pauses {
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestPipelineSamplesWithoutReplacement(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{
		TimeTable: times("2024-03-02", "09:00", "09:20", "09:40", "10:00"),
		ConfirmFunc: func(booking.ConfirmRequest) error {
			return internaltypes.Markf(internaltypes.ErrRemoteRejection, "status 409")
		},
	})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(10), []string{"2024-03-02"}, Incremental)
	require.NoError(t, err)
	assert.Zero(t, res.Confirmed)
	assert.Empty(t, res.LastSuccessDate)

	seen := map[string]bool{}
	for _, r := range f.remote.Reserves() {
		assert.False(t, seen[r.Time], "time %s tried twice", r.Time)
		seen[r.Time] = true
	}
	assert.Len(t, seen, 4)
	assert.Len(t, f.pauses, 3)
	assert.Empty(t, f.notifier.Visits())
}

func TestPipelineRejectedReserveMakesNoFurtherCalls(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{
		TimeTable:   times("2024-03-02", "09:00", "09:20", "09:40"),
		ReserveFunc: func(booking.ReserveRequest) (string, bool, error) { return "", false, nil },
	})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-02"}, Incremental)
	require.NoError(t, err)
	assert.Zero(t, res.Confirmed)
	assert.Len(t, f.remote.Reserves(), 3)
	assert.Empty(t, f.remote.Matches())
	assert.Empty(t, f.remote.Confirms())
	assert.Empty(t, f.notifier.Errors())

	records := f.journal.Records()
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, booking.StateFailed, rec.State)
		assert.Equal(t, booking.StateCandidate, rec.ReachedState)
		assert.Equal(t, "remote_rejection", rec.ErrorKind)
	}
}

func TestPipelineMatchFailureSkipsConfirm(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{
		TimeTable: times("2024-03-02", "09:00", "09:20"),
		MatchErr:  internaltypes.Markf(internaltypes.ErrTransientNetwork, "match customer: status 502"),
	})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-02"}, Incremental)
	require.NoError(t, err)
	assert.Zero(t, res.Confirmed)
	assert.Len(t, f.remote.Matches(), 2)
	assert.Empty(t, f.remote.Confirms())
	assert.Len(t, f.notifier.Errors(), 2)

	rec := f.journal.Records()[0]
	assert.Equal(t, booking.StateReserved, rec.ReachedState)
	assert.Equal(t, "transient_network", rec.ErrorKind)
	assert.NotEmpty(t, rec.ReservationID)
}

func TestPipelineConfirmedVisit(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{TimeTable: times("2024-03-02", "09:00", "09:20")})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-02"}, Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Empty(t, f.pauses)

	require.Len(t, f.remote.Reserves(), 1)
	require.Len(t, f.remote.Matches(), 1)
	require.Len(t, f.remote.Confirms(), 1)
	c := f.remote.Matches()[0]
	assert.Equal(t, "bot@example.com", c.Email)
	assert.Equal(t, "48668000000", c.Phone)
	assert.Equal(t, "res-2024-03-02-09:00", f.remote.Confirms()[0].ReservationID)

	assert.Equal(t, []booking.VisitEvent{{
		ServiceName: "Paszport",
		SlotLength:  20,
		Date:        "2024-03-02",
		Time:        "09:00",
		Phone:       "48668000000",
		ChannelName: "Kraków",
	}}, f.notifier.Visits())

	rec := f.journal.Records()[0]
	assert.Equal(t, booking.StateConfirmed, rec.State)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Empty(t, rec.ErrorKind)
}

func TestPipelineNotificationFailureKeepsSuccess(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{TimeTable: times("2024-03-02", "09:00")})
	f.notifier.VisitErr = errors.New("telegram down")

	res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-02"}, Incremental)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
}

func TestPipelineModes(t *testing.T) {
	remoteTimes := map[string][]string{
		bookingtest.TimesKey("svc-1", "2024-03-02"): {"09:00"},
		bookingtest.TimesKey("svc-1", "2024-03-03"): {"09:00"},
		bookingtest.TimesKey("svc-1", "2024-03-04"): {"09:00"},
	}
	dates := []string{"2024-03-02", "2024-03-03", "2024-03-04"}

	t.Run("incremental stops at first success", func(t *testing.T) {
		f := newFixture(t, &bookingtest.Remote{TimeTable: remoteTimes})
		res, err := f.pipeline.Run(context.Background(), f.remote, target(1), dates, Incremental)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Confirmed)
		assert.Equal(t, "2024-03-02", res.LastSuccessDate)
		assert.Len(t, f.remote.Reserves(), 1)
	})

	t.Run("reset covers every date", func(t *testing.T) {
		f := newFixture(t, &bookingtest.Remote{TimeTable: remoteTimes})
		res, err := f.pipeline.Run(context.Background(), f.remote, target(1), dates, Reset)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Confirmed)
		assert.Equal(t, "2024-03-04", res.LastSuccessDate)
	})

	t.Run("empty date does not stop incremental", func(t *testing.T) {
		f := newFixture(t, &bookingtest.Remote{TimeTable: remoteTimes})
		res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-01", "2024-03-03"}, Incremental)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-03", res.LastSuccessDate)
	})
}

func TestPipelineDateFailureMovesOn(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{
		TimeTable: times("2024-03-03", "09:00"),
		TimesErr:  map[string]error{bookingtest.TimesKey("svc-1", "2024-03-02"): internaltypes.Markf(internaltypes.ErrTransientNetwork, "status 503")},
	})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-02", "2024-03-03"}, Incremental)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03", res.LastSuccessDate)
	require.Len(t, f.notifier.Errors(), 1)
	assert.Contains(t, f.notifier.Errors()[0], "2024-03-02")
}

func TestPipelineRejectedSessionEndsRun(t *testing.T) {
	rejected := internaltypes.Markf(internaltypes.ErrAuthentication, "times: status 401")
	slots := times("2024-03-02", "09:00")
	slots[bookingtest.TimesKey("svc-1", "2024-03-04")] = []string{"11:00"}
	f := newFixture(t, &bookingtest.Remote{
		TimeTable: slots,
		TimesErr:  map[string]error{bookingtest.TimesKey("svc-1", "2024-03-03"): rejected},
	})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(1), []string{"2024-03-02", "2024-03-03", "2024-03-04"}, Reset)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internaltypes.ErrAuthentication))
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "2024-03-02", res.LastSuccessDate)
	require.Len(t, f.remote.Reserves(), 1)
	assert.Equal(t, "2024-03-02", f.remote.Reserves()[0].Date)
	assert.Empty(t, f.notifier.Errors())
}

func TestPipelineRejectedReserveStopsDraw(t *testing.T) {
	f := newFixture(t, &bookingtest.Remote{
		TimeTable: times("2024-03-02", "09:00", "09:20", "09:40"),
		ReserveFunc: func(booking.ReserveRequest) (string, bool, error) {
			return "", false, internaltypes.Markf(internaltypes.ErrAuthentication, "reserve: status 403")
		},
	})

	res, err := f.pipeline.Run(context.Background(), f.remote, target(2), []string{"2024-03-02", "2024-03-03"}, Incremental)
	require.Error(t, err)
	assert.True(t, errors.Is(err, internaltypes.ErrAuthentication))
	assert.Zero(t, res.Confirmed)
	assert.Len(t, f.remote.Reserves(), 1)
	assert.Empty(t, f.pauses)
	assert.Empty(t, f.notifier.Errors())
	require.Len(t, f.journal.Records(), 1)
	assert.Equal(t, booking.StateFailed, f.journal.Records()[0].State)
}

func TestPipelineCancelledDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, &bookingtest.Remote{TimeTable: times("2024-03-02", "09:00", "09:20", "09:40")})
	f.pipeline.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := f.pipeline.Run(ctx, f.remote, target(3), []string{"2024-03-02", "2024-03-03"}, Reset)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, "2024-03-02", res.LastSuccessDate)
	assert.Len(t, f.remote.Reserves(), 1)
}

func TestNewPipelineRequiresPrefixes(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, internaltypes.ErrConfiguration))
}
