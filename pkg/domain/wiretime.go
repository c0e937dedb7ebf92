package domain

import (
	"strings"
	"time"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// The network exchanges timestamps in exactly one format: UTC with six
// fractional-second digits and a literal Z suffix. Payloads that deviate are
// rejected rather than parsed leniently; guessing alternate formats hides
// producer bugs.
const wireTimeLayout = "2006-01-02T15:04:05.000000"

// ParseWireTime parses a protocol timestamp. The ".000000" layout element is
// non-elastic, so exactly six fractional digits are required.
func ParseWireTime(s string) (time.Time, error) {
	if !strings.HasSuffix(s, "Z") {
		return time.Time{}, dErrors.Newf(dErrors.CodeInvalidInput, "timestamp %q must end in Z", s)
	}
	t, err := time.Parse(wireTimeLayout, strings.TrimSuffix(s, "Z"))
	if err != nil {
		return time.Time{}, dErrors.Newf(dErrors.CodeInvalidInput, "timestamp %q is not in wire format", s)
	}
	return t.UTC(), nil
}

// FormatWireTime renders t in the protocol wire format.
func FormatWireTime(t time.Time) string {
	return t.UTC().Format(wireTimeLayout) + "Z"
}

// WireTime is a time.Time that marshals in the protocol wire format and
// rejects any other format on unmarshal. Use it in payload structs so the
// format contract is enforced at the JSON boundary.
type WireTime time.Time

func (w WireTime) Time() time.Time { return time.Time(w) }

func (w WireTime) IsZero() bool { return time.Time(w).IsZero() }

func (w WireTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + FormatWireTime(time.Time(w)) + `"`), nil
}

func (w *WireTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return dErrors.New(dErrors.CodeInvalidInput, "timestamp must be a JSON string")
	}
	t, err := ParseWireTime(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*w = WireTime(t)
	return nil
}
