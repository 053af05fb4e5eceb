package network

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("first")))
	// keep-alive between frames
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(0)))
	require.NoError(t, writeFrame(&buf, []byte("second")))

	got, err := readFrame(&buf, maxMsgSize)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got)

	got, err = readFrame(&buf, maxMsgSize)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, make([]byte, 64)))

	_, err := readFrame(&buf, 16)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(10)))
	buf.WriteString("short")

	_, err := readFrame(&buf, maxMsgSize)
	require.Error(t, err)
}
