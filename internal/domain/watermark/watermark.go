package watermark

import (
	"context"
	"fmt"
)

// Key identifies one watermark.
type Key struct {
	ChannelID string
	ServiceID string
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.ChannelID, k.ServiceID) }

type Entry struct {
	Key
	Date string
}

// Store persists the last date at which a service had a confirmed visit.
// Set never moves a watermark backwards; an older or equal date is a no-op.
// Write failures are marked internaltypes.ErrPersistence.
type Store interface {
	Get(ctx context.Context, k Key) (string, error)
	Set(ctx context.Context, k Key, date string) error
	List(ctx context.Context) ([]Entry, error)
}
