package booking

import (
	"strings"

	"github.com/example/qmatic-scheduler/internal/internaltypes"
)

const (
	CountryCode = "48"
	phoneDigits = 6
)

// GeneratePhone builds "48" + prefix + 6 digits. intn must behave like
// rand.IntN. Numbers are not checked for uniqueness.
func GeneratePhone(prefixes []string, intn func(int) int) (string, error) {
	if len(prefixes) == 0 {
		return "", internaltypes.Markf(internaltypes.ErrConfiguration, "no phone prefixes configured")
	}
	var b strings.Builder
	b.WriteString(CountryCode)
	b.WriteString(prefixes[intn(len(prefixes))])
	for i := 0; i < phoneDigits; i++ {
		b.WriteByte(byte('0' + intn(10)))
	}
	return b.String(), nil
}
