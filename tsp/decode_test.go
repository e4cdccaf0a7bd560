package tsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeNumeric(t *testing.T) {
	t.Run("scientific", func(t *testing.T) {
		reply, err := Decode([]byte("+1.234560e-03\n"), ReplyNumeric)
		require.NoError(t, err)
		require.InDelta(t, 1.23456e-3, reply.Value, 1e-12)
	})

	t.Run("plain", func(t *testing.T) {
		reply, err := Decode([]byte("42\r\n"), ReplyNumeric)
		require.NoError(t, err)
		require.Equal(t, 42.0, reply.Value)
	})

	t.Run("garbage fails", func(t *testing.T) {
		_, err := Decode([]byte("not-a-number\n"), ReplyNumeric)
		require.ErrorIs(t, err, ErrMalformedReply)
	})

	t.Run("empty fails", func(t *testing.T) {
		_, err := Decode(nil, ReplyNumeric)
		require.ErrorIs(t, err, ErrMalformedReply)
	})
}

func TestDecodeFlag(t *testing.T) {
	for _, raw := range []string{"1", "true", "True"} {
		reply, err := Decode([]byte(raw+"\n"), ReplyFlag)
		require.NoError(t, err, raw)
		require.True(t, reply.Flag, raw)
	}

	for _, raw := range []string{"0", "false", "False"} {
		reply, err := Decode([]byte(raw+"\n"), ReplyFlag)
		require.NoError(t, err, raw)
		require.False(t, reply.Flag, raw)
	}

	_, err := Decode([]byte("maybe\n"), ReplyFlag)
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeIdentity(t *testing.T) {
	reply, err := Decode([]byte("Keithley Instruments Inc., Model 2612, 1234567, 1.4.2\n"), ReplyIdentity)
	require.NoError(t, err)
	require.Equal(t, "Keithley Instruments Inc., Model 2612, 1234567, 1.4.2", reply.Identity)

	_, err = Decode([]byte("\r\n"), ReplyIdentity)
	require.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeNone(t *testing.T) {
	_, err := Decode(nil, ReplyNone)
	require.NoError(t, err)

	_, err = Decode([]byte("\r\n"), ReplyNone)
	require.NoError(t, err)

	// A write-only command producing output means the stream is out of sync.
	_, err = Decode([]byte("+1.0e+00\n"), ReplyNone)
	require.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestDecodeErrorEntry(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		reply, err := Decode([]byte("\n"), ReplyErrorEntry)
		require.NoError(t, err)
		require.Nil(t, reply.Entry)
	})

	t.Run("entry", func(t *testing.T) {
		reply, err := Decode([]byte("-285|TSP Syntax error at line 1|1|1\n"), ReplyErrorEntry)
		require.NoError(t, err)
		require.NotNil(t, reply.Entry)
		require.Equal(t, -285, reply.Entry.Code)
		require.Equal(t, "TSP Syntax error at line 1", reply.Entry.Message)
		require.Equal(t, 1, reply.Entry.Severity)
		require.Equal(t, 1, reply.Entry.Node)
	})

	t.Run("message with pipes", func(t *testing.T) {
		reply, err := Decode([]byte("-286|bad token | near '='|2|1\n"), ReplyErrorEntry)
		require.NoError(t, err)
		require.NotNil(t, reply.Entry)
		require.Equal(t, -286, reply.Entry.Code)
		require.Equal(t, "bad token | near '='", reply.Entry.Message)
		require.Equal(t, 2, reply.Entry.Severity)
		require.Equal(t, 1, reply.Entry.Node)
	})

	t.Run("truncated entry fails", func(t *testing.T) {
		_, err := Decode([]byte("-285|oops\n"), ReplyErrorEntry)
		require.ErrorIs(t, err, ErrMalformedReply)
	})

	t.Run("non-numeric code fails", func(t *testing.T) {
		_, err := Decode([]byte("x|oops|1|1\n"), ReplyErrorEntry)
		require.ErrorIs(t, err, ErrMalformedReply)
	})
}

func TestErrorEntryRoundTrip(t *testing.T) {
	entry := ErrorEntry{Code: -420, Message: "Query UNTERMINATED", Severity: 1, Node: 2}

	reply, err := Decode([]byte(entry.String()+"\n"), ReplyErrorEntry)
	require.NoError(t, err)
	require.NotNil(t, reply.Entry)
	require.Equal(t, entry, *reply.Entry)
}

func TestParseChannel(t *testing.T) {
	for _, raw := range []string{"a", "A", "smua", "SMUA"} {
		ch, err := ParseChannel(raw)
		require.NoError(t, err)
		require.Equal(t, ChannelA, ch)
	}

	ch, err := ParseChannel("smub")
	require.NoError(t, err)
	require.Equal(t, ChannelB, ch)

	_, err = ParseChannel("smuc")
	require.ErrorIs(t, err, ErrInvalidChannel)
}
