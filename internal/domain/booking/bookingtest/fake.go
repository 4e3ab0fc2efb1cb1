// Package bookingtest provides in-memory stand-ins for the booking ports.
package bookingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/qmatic-scheduler/internal/domain/booking"
	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

// Remote is a scripted booking.Remote. Zero values mean: every service
// exists with default durations, no dates, and every reserve and confirm
// succeeds.
type Remote struct {
	// Services is keyed by service id. When nil every id is offered.
	Services map[string]booking.ServiceDetails
	// DateTable is keyed by service id.
	DateTable map[string][]string
	// TimeTable is keyed by TimesKey(serviceID, date).
	TimeTable  map[string][]string
	DatesErr   error
	TimesErr   map[string]error
	ServiceErr error

	ReserveFunc func(booking.ReserveRequest) (string, bool, error)
	MatchErr    error
	ConfirmFunc func(booking.ConfirmRequest) error

	mu       sync.Mutex
	reserves []booking.ReserveRequest
	matches  []booking.Customer
	confirms []booking.ConfirmRequest
	closed   bool
}

var _ booking.Remote = (*Remote)(nil)

func TimesKey(serviceID, date string) string { return serviceID + " " + date }

func (r *Remote) Service(_ context.Context, _ string, serviceID string) (booking.ServiceDetails, error) {
	if r.ServiceErr != nil {
		return booking.ServiceDetails{}, r.ServiceErr
	}
	if r.Services == nil {
		return booking.ServiceDetails{
			PublicID:           serviceID,
			Duration:           booking.DefaultDuration,
			AdditionalDuration: booking.DefaultAdditionalDuration,
		}, nil
	}
	d, ok := r.Services[serviceID]
	if !ok {
		return booking.ServiceDetails{}, internaltypes.Markf(internaltypes.ErrNotFound, "service %s not offered", serviceID)
	}
	return d, nil
}

func (r *Remote) Dates(_ context.Context, entry booking.ServiceEntry, _ int) ([]string, error) {
	if r.DatesErr != nil {
		return nil, r.DatesErr
	}
	return append([]string(nil), r.DateTable[entry.ServiceID]...), nil
}

func (r *Remote) Times(_ context.Context, entry booking.ServiceEntry, date string, slotLength int) ([]booking.SlotCandidate, error) {
	key := TimesKey(entry.ServiceID, date)
	if err := r.TimesErr[key]; err != nil {
		return nil, err
	}
	var out []booking.SlotCandidate
	for _, t := range r.TimeTable[key] {
		out = append(out, booking.SlotCandidate{Date: date, Time: t, SlotLength: slotLength})
	}
	return out, nil
}

func (r *Remote) Reserve(_ context.Context, req booking.ReserveRequest) (string, bool, error) {
	r.mu.Lock()
	r.reserves = append(r.reserves, req)
	r.mu.Unlock()
	if r.ReserveFunc != nil {
		return r.ReserveFunc(req)
	}
	return fmt.Sprintf("res-%s-%s", req.Date, req.Time), true, nil
}

func (r *Remote) MatchCustomer(_ context.Context, c booking.Customer) error {
	r.mu.Lock()
	r.matches = append(r.matches, c)
	r.mu.Unlock()
	return r.MatchErr
}

func (r *Remote) Confirm(_ context.Context, req booking.ConfirmRequest) error {
	r.mu.Lock()
	r.confirms = append(r.confirms, req)
	r.mu.Unlock()
	if r.ConfirmFunc != nil {
		return r.ConfirmFunc(req)
	}
	return nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Remote) Reserves() []booking.ReserveRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]booking.ReserveRequest(nil), r.reserves...)
}

func (r *Remote) Matches() []booking.Customer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]booking.Customer(nil), r.matches...)
}

func (r *Remote) Confirms() []booking.ConfirmRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]booking.ConfirmRequest(nil), r.confirms...)
}

func (r *Remote) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Opener hands out remotes from New and counts the sessions opened.
type Opener struct {
	New func() (booking.Remote, error)

	mu    sync.Mutex
	opens int
}

func (o *Opener) Open(context.Context) (booking.Remote, error) {
	o.mu.Lock()
	o.opens++
	o.mu.Unlock()
	return o.New()
}

func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type Notifier struct {
	VisitErr error

	mu       sync.Mutex
	visits   []booking.VisitEvent
	chats    []string
	errs     []string
	errChats []string
}

var _ booking.Notifier = (*Notifier)(nil)

func (n *Notifier) VisitRegistered(_ context.Context, chatID string, ev booking.VisitEvent) (booking.MessageHandle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visits = append(n.visits, ev)
	n.chats = append(n.chats, chatID)
	if n.VisitErr != nil {
		return booking.MessageHandle{}, n.VisitErr
	}
	return booking.MessageHandle{ChatID: chatID, MessageID: int64(len(n.visits))}, nil
}

func (n *Notifier) ErrorOccurred(_ context.Context, chatID string, message string) error {
	n.mu.Lock()
	n.errs = append(n.errs, message)
	n.errChats = append(n.errChats, chatID)
	n.mu.Unlock()
	return nil
}

func (n *Notifier) Visits() []booking.VisitEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]booking.VisitEvent(nil), n.visits...)
}

func (n *Notifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errs...)
}

// ErrorChats lists the chat of every ErrorOccurred call, in order.
func (n *Notifier) ErrorChats() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errChats...)
}

type Journal struct {
	mu      sync.Mutex
	records []booking.AttemptRecord
}

func (j *Journal) Record(_ context.Context, rec booking.AttemptRecord) error {
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()
	return nil
}

func (j *Journal) Records() []booking.AttemptRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]booking.AttemptRecord(nil), j.records...)
}
