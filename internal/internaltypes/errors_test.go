package internaltypes

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestMarkKeepsIdentityAndKind(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	marked := Mark(base, ErrTransientNetwork)

	assert.True(t, errors.Is(marked, ErrTransientNetwork))
	assert.True(t, errors.Is(marked, base))
	assert.Equal(t, base.Error(), marked.Error())

	wrapped := fmt.Errorf("fetch dates: %w", marked)
	assert.True(t, errors.Is(wrapped, ErrTransientNetwork))
	assert.Equal(t, "transient_network", Kind(wrapped))
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "unmarked", err: errors.New("boom"), want: "unknown"},
		{name: "auth", err: Markf(ErrAuthentication, "no %s cookie", "JSESSIONID"), want: "authentication"},
		{name: "rejection", err: Markf(ErrRemoteRejection, "confirm status %d", 409), want: "remote_rejection"},
		{name: "persistence", err: Mark(errors.New("read-only fs"), ErrPersistence), want: "persistence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestMarkNil(t *testing.T) {
	assert.NoError(t, Mark(nil, ErrPersistence))
}
