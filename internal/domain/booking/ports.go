package booking

import "context"

// Remote is an authenticated session against the booking API. A Remote is
// owned by one cycle at a time.
type Remote interface {
	// Service returns internaltypes.ErrNotFound when the branch does not
	// offer serviceID.
	Service(ctx context.Context, branchID, serviceID string) (ServiceDetails, error)
	Dates(ctx context.Context, entry ServiceEntry, slotLength int) ([]string, error)
	Times(ctx context.Context, entry ServiceEntry, date string, slotLength int) ([]SlotCandidate, error)
	// Reserve reports ok=false with a nil error when the response carried
	// no reservation id.
	Reserve(ctx context.Context, req ReserveRequest) (id string, ok bool, err error)
	MatchCustomer(ctx context.Context, c Customer) error
	// Confirm succeeds only on HTTP 200; other statuses are remote
	// rejections.
	Confirm(ctx context.Context, req ConfirmRequest) error
	Close() error
}

// SessionOpener establishes a new Remote. Failures are authentication errors.
type SessionOpener interface {
	Open(ctx context.Context) (Remote, error)
}

type Notifier interface {
	VisitRegistered(ctx context.Context, chatID string, ev VisitEvent) (MessageHandle, error)
	ErrorOccurred(ctx context.Context, chatID string, message string) error
}

type NopNotifier struct{}

func (NopNotifier) VisitRegistered(context.Context, string, VisitEvent) (MessageHandle, error) {
	return MessageHandle{}, nil
}

func (NopNotifier) ErrorOccurred(context.Context, string, string) error { return nil }

type AttemptJournal interface {
	Record(ctx context.Context, rec AttemptRecord) error
}

type NopJournal struct{}

func (NopJournal) Record(context.Context, AttemptRecord) error { return nil }
