package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
	"github.com/example/qmatic-scheduler/internal/pkg/clock"
)

// Mode selects how far a service pass goes across dates.
type Mode int

const (
	// Incremental stops after the first date with a confirmed visit.
	Incremental Mode = iota
	// Reset tries every date it is given.
	Reset
)

func (m Mode) String() string {
	if m == Reset {
		return "reset"
	}
	return "incremental"
}

var errNoReservationID = internaltypes.Markf(internaltypes.ErrRemoteRejection, "reserve returned no reservation id")

// Target is one service pass: the entry, where to report, and the slot
// length the remote expects for it.
type Target struct {
	RunID      string
	Channel    booking.Channel
	Entry      booking.ServiceEntry
	SlotLength int
}

type ServiceResult struct {
	Confirmed int
	// LastSuccessDate is the latest date with a confirmed visit, "" if none.
	LastSuccessDate string
}

type PipelineConfig struct {
	Email    string
	Prefixes []string
	// PauseMin and PauseMax bound the random wait between two attempts on
	// the same date. Defaults are 5 s and 10 s.
	PauseMin time.Duration
	PauseMax time.Duration

	Finder   SlotFinder
	Notifier booking.Notifier
	Journal  booking.AttemptJournal
	Clock    clock.Clock
	// IntN behaves like rand.Intn. It drives slot order, phone numbers and
	// pause lengths.
	IntN   func(int) int
	Sleep  func(context.Context, time.Duration) error
	Logger *slog.Logger
}

// Pipeline drives slot candidates through reserve, customer match and
// confirm, and counts confirmed visits against the daily quota.
type Pipeline struct {
	email    string
	prefixes []string
	pauseMin time.Duration
	pauseMax time.Duration
	finder   SlotFinder
	notifier booking.Notifier
	journal  booking.AttemptJournal
	clock    clock.Clock
	intn     func(int) int
	sleep    func(context.Context, time.Duration) error
	logger   *slog.Logger
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if len(cfg.Prefixes) == 0 {
		return nil, internaltypes.Markf(internaltypes.ErrConfiguration, "pipeline: phone prefixes are required")
	}
	p := &Pipeline{
		email:    cfg.Email,
		prefixes: cfg.Prefixes,
		pauseMin: cfg.PauseMin,
		pauseMax: cfg.PauseMax,
		finder:   cfg.Finder,
		notifier: cfg.Notifier,
		journal:  cfg.Journal,
		clock:    cfg.Clock,
		intn:     cfg.IntN,
		sleep:    cfg.Sleep,
		logger:   cfg.Logger,
	}
	if p.pauseMin <= 0 && p.pauseMax <= 0 {
		p.pauseMin, p.pauseMax = 5*time.Second, 10*time.Second
	}
	if p.pauseMax < p.pauseMin {
		p.pauseMax = p.pauseMin
	}
	if p.notifier == nil {
		p.notifier = booking.NopNotifier{}
	}
	if p.journal == nil {
		p.journal = booking.NopJournal{}
	}
	if p.clock == nil {
		p.clock = clock.NewRealClock()
	}
	if p.intn == nil {
		p.intn = rand.Intn
	}
	if p.sleep == nil {
		p.sleep = clock.Sleep
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.finder.logger == nil {
		p.finder = NewSlotFinder(p.clock, p.logger)
	}
	return p, nil
}

func (p *Pipeline) Finder() SlotFinder { return p.finder }

// Run works through dates in order. A date that fails is reported and
// skipped, except when the session is rejected: that ends the run and the
// error is returned with the result so far. Cancellation is observed between
// dates and during pauses; the result so far is returned together with
// ctx.Err().
func (p *Pipeline) Run(ctx context.Context, remote booking.Remote, t Target, dates []string, mode Mode) (ServiceResult, error) {
	var res ServiceResult
	logger := p.logger.With("run_id", t.RunID, "channel", t.Channel.Name, "service", t.Entry.ServiceName, "mode", mode.String())
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := p.fillDate(ctx, remote, t, date, logger)
		if n > 0 {
			res.Confirmed += n
			res.LastSuccessDate = booking.Latest(res.LastSuccessDate, date)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if errors.Is(err, internaltypes.ErrAuthentication) {
				logger.Error("session rejected, ending service", "date", date, "err", err)
				return res, err
			}
			logger.Error("date failed", "date", date, "kind", internaltypes.Kind(err), "err", err)
			p.report(ctx, t, fmt.Sprintf("%s (%s), %s: %v", t.Entry.ServiceName, t.Channel.Name, date, err))
			continue
		}
		if n > 0 && mode == Incremental {
			break
		}
	}
	return res, nil
}

// fillDate draws slots at random without replacement until the quota is met
// or the slots run out. A rejected session stops the draw.
func (p *Pipeline) fillDate(ctx context.Context, remote booking.Remote, t Target, date string, logger *slog.Logger) (int, error) {
	slots, err := p.finder.Times(ctx, remote, t.Entry, date, t.SlotLength)
	if err != nil {
		return 0, err
	}
	if len(slots) == 0 {
		logger.Info("no free times", "date", date)
		return 0, nil
	}

	remaining := append([]booking.SlotCandidate(nil), slots...)
	confirmed := 0
	for attempts := 0; confirmed < t.Entry.VisitsPerDay && len(remaining) > 0; attempts++ {
		if attempts > 0 {
			if err := p.pause(ctx); err != nil {
				return confirmed, err
			}
		}
		i := p.intn(len(remaining))
		slot := remaining[i]
		remaining[i] = remaining[len(remaining)-1]
		remaining = remaining[:len(remaining)-1]

		err := p.attempt(ctx, remote, t, slot, logger)
		if err == nil {
			confirmed++
			continue
		}
		if errors.Is(err, internaltypes.ErrAuthentication) {
			return confirmed, err
		}
	}
	logger.Info("date done", "date", date, "confirmed", confirmed, "quota", t.Entry.VisitsPerDay, "free", len(slots))
	return confirmed, nil
}

func (p *Pipeline) pause(ctx context.Context) error {
	d := p.pauseMin
	if span := p.pauseMax - p.pauseMin; span > 0 {
		d += time.Duration(p.intn(int(span/time.Millisecond)+1)) * time.Millisecond
	}
	return p.sleep(ctx, d)
}

// attempt runs one slot to CONFIRMED or FAILED. It is not cancellable once
// started. Authentication failures are left for the caller to report.
func (p *Pipeline) attempt(ctx context.Context, remote booking.Remote, t Target, slot booking.SlotCandidate, logger *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	rec := booking.AttemptRecord{
		RunID:        t.RunID,
		ChannelID:    t.Channel.ID,
		ServiceID:    t.Entry.ServiceID,
		Date:         slot.Date,
		Time:         slot.Time,
		ReachedState: booking.StateCandidate,
		At:           p.clock.Now(),
	}

	err := p.drive(ctx, remote, t, slot, &rec)
	if err != nil {
		rec.State = booking.StateFailed
		rec.ErrorKind = internaltypes.Kind(err)
		rec.Error = err.Error()
		switch {
		case errors.Is(err, internaltypes.ErrRemoteRejection):
			logger.Info("slot rejected", "date", slot.Date, "time", slot.Time, "reached", rec.ReachedState, "err", err)
		case errors.Is(err, internaltypes.ErrAuthentication):
			logger.Warn("slot attempt failed", "date", slot.Date, "time", slot.Time, "reached", rec.ReachedState, "kind", rec.ErrorKind, "err", err)
		default:
			logger.Warn("slot attempt failed", "date", slot.Date, "time", slot.Time, "reached", rec.ReachedState, "kind", rec.ErrorKind, "err", err)
			p.report(ctx, t, fmt.Sprintf("%s (%s), %s %s: %v", t.Entry.ServiceName, t.Channel.Name, slot.Date, slot.Time, err))
		}
	} else {
		rec.State = booking.StateConfirmed
		logger.Info("visit registered", "date", slot.Date, "time", slot.Time, "phone", rec.Phone, "reservation_id", rec.ReservationID)
		ev := booking.VisitEvent{
			ServiceName: t.Entry.ServiceName,
			SlotLength:  t.SlotLength,
			Date:        slot.Date,
			Time:        slot.Time,
			Phone:       rec.Phone,
			ChannelName: t.Channel.Name,
		}
		if _, nerr := p.notifier.VisitRegistered(ctx, t.Channel.ChatID, ev); nerr != nil {
			logger.Error("visit notification failed", "chat_id", t.Channel.ChatID, "err", nerr)
		}
	}

	if jerr := p.journal.Record(ctx, rec); jerr != nil {
		logger.Error("journal write failed", "err", jerr)
	}
	return err
}

func (p *Pipeline) drive(ctx context.Context, remote booking.Remote, t Target, slot booking.SlotCandidate, rec *booking.AttemptRecord) error {
	id, ok, err := remote.Reserve(ctx, booking.ReserveRequest{
		Entry:      t.Entry,
		Date:       slot.Date,
		Time:       slot.Time,
		SlotLength: t.SlotLength,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errNoReservationID
	}
	rec.ReachedState = booking.StateReserved
	rec.ReservationID = id

	phone, err := booking.GeneratePhone(p.prefixes, p.intn)
	if err != nil {
		return err
	}
	rec.Phone = phone
	customer := booking.Customer{Email: p.email, Phone: phone}
	if err := remote.MatchCustomer(ctx, customer); err != nil {
		return err
	}
	rec.ReachedState = booking.StateCustomerMatched

	if err := remote.Confirm(ctx, booking.ConfirmRequest{
		ReservationID: id,
		Entry:         t.Entry,
		Customer:      customer,
		SlotLength:    t.SlotLength,
	}); err != nil {
		return err
	}
	rec.ReachedState = booking.StateConfirmed
	return nil
}

func (p *Pipeline) report(ctx context.Context, t Target, message string) {
	if t.Channel.ChatID == "" {
		return
	}
	if err := p.notifier.ErrorOccurred(context.WithoutCancel(ctx), t.Channel.ChatID, message); err != nil {
		p.logger.Error("error notification failed", "chat_id", t.Channel.ChatID, "err", err)
	}
}
