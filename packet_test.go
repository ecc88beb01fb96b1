package one_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	one "github.com/frobware/go-one"
)

type seen struct {
	qid     one.QID
	payload string
}

func collect(t *testing.T, buf []byte) ([]seen, int, error) {
	t.Helper()
	var got []seen
	n, err := one.Walk(buf, func(h one.Header, p []byte) {
		got = append(got, seen{h.QID, string(p)})
	})
	return got, n, err
}

// TestWalk_TwoPackets_InBufferOrder verifies that:
//
//	Given a buffer holding two back-to-back packets,
//	When I walk it,
//	Then the callback runs twice, in order, with exact payload bounds.
func TestWalk_TwoPackets_InBufferOrder(t *testing.T) {
	buf := one.Append(nil, 7, []byte("first"))
	buf = one.Append(buf, 9, []byte("second packet"))

	got, n, err := collect(t, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []seen{{7, "first"}, {9, "second packet"}}, got)
}

// TestWalk_TruncatedTail_StopsAfterPrefix verifies that:
//
//	Given a buffer whose last packet declares more bytes than remain,
//	When I walk it,
//	Then only the well-formed prefix is visited and ErrTruncated is returned.
func TestWalk_TruncatedTail_StopsAfterPrefix(t *testing.T) {
	buf := one.Append(nil, 1, []byte("ok"))
	buf = one.Append(buf, 2, []byte("this one is cut short"))
	buf = buf[:len(buf)-5]

	got, n, err := collect(t, buf)
	assert.True(t, errors.Is(err, one.ErrTruncated), "expected ErrTruncated, got %v", err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []seen{{1, "ok"}}, got)
}

// TestWalk_PartialHeader_IsTruncated verifies that:
//
//	Given a buffer ending in a fragment shorter than a header,
//	When I walk it,
//	Then the fragment is reported as truncated.
func TestWalk_PartialHeader_IsTruncated(t *testing.T) {
	buf := one.Append(nil, 1, nil)
	buf = append(buf, 0, 0, 0)

	got, n, err := collect(t, buf)
	assert.ErrorIs(t, err, one.ErrTruncated)
	assert.Equal(t, 1, n)
	assert.Equal(t, []seen{{1, ""}}, got)
}

// TestWalk_Empty_VisitsNothing verifies that an empty buffer, which is
// what a woken receive returns, yields no packets and no error.
func TestWalk_Empty_VisitsNothing(t *testing.T) {
	got, n, err := collect(t, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, got)
}

func TestHeader_RoundTrip(t *testing.T) {
	h := one.NewHeader(42, 1000)
	assert.Equal(t, uint32(1000), h.Uncompressed)
	assert.Equal(t, one.HeaderSize+1000, h.PacketSize())

	parsed, err := one.ParseHeader(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = one.ParseHeader(make([]byte, one.HeaderSize-1))
	assert.ErrorIs(t, err, one.ErrTruncated)
}
