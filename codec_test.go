package authadapters

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsISODate(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"2024-01-02T03:04:05Z", true},
		{"2024-01-02T03:04:05.123Z", true},
		{"2024-01-02T03:04:05.123456789+05:30", true},
		{"2024-01-02T03:04:05-08:00", true},
		{"2024-01-02", false},
		{"2024-01-02T03:04:05", false},
		{"on 2024-01-02T03:04:05Z", false},
		{"2024-01-02T03:04:05Z!", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsISODate(tt.in), "IsISODate(%q)", tt.in)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	expires := time.Date(2025, 6, 1, 12, 0, 0, 500_000_000, time.UTC)
	in := Record{
		"sessionToken":  "tok1",
		"userId":        "u1",
		"expires":       expires,
		"emailVerified": nil,
		"count":         float64(3),
		"active":        true,
		"nested": map[string]any{
			"at":   expires,
			"list": []any{expires, "2024", "not-a-date"},
		},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRecordLeavesNearDates(t *testing.T) {
	out, err := DecodeRecord([]byte(`{"a":"2024-01-02","b":"x2024-01-02T03:04:05Z","c":null}`))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", out["a"])
	assert.Equal(t, "x2024-01-02T03:04:05Z", out["b"])
	assert.Nil(t, out["c"])
}

func TestDecodeTypedRevivesExtra(t *testing.T) {
	verified := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := &User{ID: "u1", Email: "a@b.com", EmailVerified: &verified, Extra: map[string]any{
		"seen": time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
	}}
	data, err := Encode(u)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"emailVerified":"2024-01-01T00:00:00Z"`)

	var got User
	require.NoError(t, Decode(data, &got))
	assert.Equal(t, *u, got)

	var noVerify User
	require.NoError(t, Decode([]byte(`{"id":"u2","email":"x@y","emailVerified":null}`), &noVerify))
	assert.Nil(t, noVerify.EmailVerified)
}

func TestDecodeErrorsAreCodec(t *testing.T) {
	_, err := DecodeRecord([]byte("{"))
	assert.True(t, errors.Is(err, ErrCodec))

	var s Session
	err = Decode([]byte(`{"expires":"yesterday"}`), &s)
	assert.True(t, errors.Is(err, ErrCodec))

	_, err = Encode(map[string]any{"ch": make(chan int)})
	assert.True(t, errors.Is(err, ErrCodec))
}
