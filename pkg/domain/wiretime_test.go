package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

func Test_ParseWireTime(t *testing.T) {
	parsed, err := ParseWireTime("2026-03-01T10:30:00.123456Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 30, 0, 123456000, time.UTC), parsed)
}

func Test_ParseWireTime_RejectsOtherFormats(t *testing.T) {
	cases := map[string]string{
		"no fractional seconds": "2026-03-01T10:30:00Z",
		"three digits":          "2026-03-01T10:30:00.123Z",
		"seven digits":          "2026-03-01T10:30:00.1234567Z",
		"offset instead of Z":   "2026-03-01T10:30:00.123456+05:30",
		"date only":             "2026-03-01",
		"rfc3339 nano":          "2026-03-01T10:30:00.123456789Z",
		"empty":                 "",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWireTime(input)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func Test_FormatWireTime_RoundTrips(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 5000, time.UTC)
	parsed, err := ParseWireTime(FormatWireTime(now))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
}

func Test_WireTime_JSON(t *testing.T) {
	var payload struct {
		At WireTime `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"2026-03-01T10:30:00.000001Z"}`), &payload))
	assert.Equal(t, 1000, payload.At.Time().Nanosecond())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2026-03-01T10:30:00.000001Z"}`, string(out))

	err = json.Unmarshal([]byte(`{"at":"2026-03-01T10:30:00Z"}`), &payload)
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"at":1234}`), &payload)
	require.Error(t, err)
}
