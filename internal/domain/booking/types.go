package booking

import "time"

// DateLayout is the only date format accepted from the remote system.
const DateLayout = "2006-01-02"

type Channel struct {
	ID       string
	Name     string
	ChatID   string
	Services []ServiceEntry
}

// ServiceEntry describes one bookable service for a single pass. It is a
// value: a pass that must ignore the watermark works on WithoutWatermark().
type ServiceEntry struct {
	BranchName   string
	BranchID     string
	ServiceName  string
	ServiceID    string
	QPID         string
	Adult        int
	VisitsPerDay int

	// LastRegisteredDate is the watermark, "" when unset.
	LastRegisteredDate string
}

func (e ServiceEntry) WithoutWatermark() ServiceEntry {
	e.LastRegisteredDate = ""
	return e
}

func (e ServiceEntry) WithWatermark(date string) ServiceEntry {
	e.LastRegisteredDate = date
	return e
}

const (
	DefaultDuration           = 20
	DefaultAdditionalDuration = 10
)

type ServiceDetails struct {
	PublicID           string
	Name               string
	Duration           int
	AdditionalDuration int
}

// SlotLength is the appointment length in minutes for a party of adult people.
func (d ServiceDetails) SlotLength(adult int) int {
	if adult < 1 {
		adult = 1
	}
	return d.Duration + d.AdditionalDuration*(adult-1)
}

type SlotCandidate struct {
	Date       string
	Time       string
	SlotLength int
}

type Customer struct {
	Email string
	Phone string
}

type ReserveRequest struct {
	Entry      ServiceEntry
	Date       string
	Time       string
	SlotLength int
}

type ConfirmRequest struct {
	ReservationID string
	Entry         ServiceEntry
	Customer      Customer
	SlotLength    int
}

type VisitEvent struct {
	ServiceName string
	SlotLength  int
	Date        string
	Time        string
	Phone       string
	ChannelName string
}

type MessageHandle struct {
	ChatID    string
	MessageID int64
}

type AttemptState string

const (
	StateCandidate       AttemptState = "candidate"
	StateReserved        AttemptState = "reserved"
	StateCustomerMatched AttemptState = "customer_matched"
	StateConfirmed       AttemptState = "confirmed"
	StateFailed          AttemptState = "failed"
)

// AttemptRecord is the outcome of one slot attempt.
type AttemptRecord struct {
	RunID         string
	ChannelID     string
	ServiceID     string
	Date          string
	Time          string
	State         AttemptState
	ReachedState  AttemptState
	ReservationID string
	Phone         string
	ErrorKind     string
	Error         string
	At            time.Time
}
