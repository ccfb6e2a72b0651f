package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MessageFrame(t *testing.T) {
	frame := "*3\r\n$7\r\nmessage\r\n$9\r\ntimeline:\r\n$5\r\nhello\r\n"
	res := Parse(frame)
	require.Equal(t, KindMessage, res.Kind)
	assert.Equal(t, "timeline:", res.Channel)
	assert.Equal(t, "hello", res.Payload)
	assert.Equal(t, len(frame), res.Consumed)
}

func TestParse_NonMessageFrame(t *testing.T) {
	frame := "*3\r\n$9\r\nsubscribe\r\n$9\r\ntimeline:\r\n:1\r\n"
	res := Parse(frame)
	require.Equal(t, KindNonMessage, res.Kind)
	assert.Equal(t, len(frame), res.Consumed)
}

func TestParse_NullArray(t *testing.T) {
	frame := "*-1\r\n"
	res := Parse(frame)
	require.Equal(t, KindNonMessage, res.Kind)
	assert.Equal(t, len(frame), res.Consumed)
}

func TestParse_SplitAcrossReads(t *testing.T) {
	full := "*3\r\n$7\r\nmessage\r\n$2\r\nch\r\n$2\r\nhi\r\n"
	for split := 1; split < len(full); split++ {
		res := Parse(full[:split])
		assert.Equalf(t, KindIncomplete, res.Kind, "split at %d should be incomplete, got %+v", split, res)
	}
	res := Parse(full)
	require.Equal(t, KindMessage, res.Kind)
	assert.Equal(t, "ch", res.Channel)
	assert.Equal(t, "hi", res.Payload)
}

func TestParse_EmptyInputIsIncomplete(t *testing.T) {
	res := Parse("")
	assert.Equal(t, KindIncomplete, res.Kind)
}

func TestParse_BadLeadByte(t *testing.T) {
	res := Parse("!not a frame\r\n")
	require.Equal(t, KindError, res.Kind)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrBadLeadByte, res.Err.Kind)
}

func TestParse_BadLengthPrefix(t *testing.T) {
	res := Parse("*abc\r\n")
	require.Equal(t, KindError, res.Kind)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrBadLength, res.Err.Kind)
}

func TestParse_TruncatedBulkCRLF(t *testing.T) {
	// Declares a 5-byte bulk string but terminates it with "XX" instead of CRLF.
	res := Parse("*1\r\n$5\r\nhelloXX")
	require.Equal(t, KindError, res.Kind)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrTruncatedCRLF, res.Err.Kind)
}

func TestParse_BulkStringPassesThroughArbitraryBytes(t *testing.T) {
	payload := "not\x00utf8\xffbytes"
	frame := "*3\r\n$7\r\nmessage\r\n$2\r\nch\r\n$" + itoa(len(payload)) + "\r\n" + payload + "\r\n"
	res := Parse(frame)
	require.Equal(t, KindMessage, res.Kind)
	assert.Equal(t, payload, res.Payload)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
