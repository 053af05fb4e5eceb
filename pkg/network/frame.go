package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/busybox42/synapse/pkg/protocol"
)

var ErrFrameTooLarge = errors.New("frame exceeds maximum message size")

// writeFrame writes a 4-byte big-endian length followed by the payload.
func writeFrame(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("failed to write message length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readFrame reads the next non-empty frame. Zero-length frames are
// keep-alives and are skipped.
func readFrame(r io.Reader, limit int) ([]byte, error) {
	for {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, err
		}
		if msgLen == 0 {
			continue
		}
		if int(msgLen) > limit {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, msgLen)
		}
		data := make([]byte, msgLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return data, nil
	}
}

func writeEnvelope(w io.Writer, env protocol.Envelope) error {
	data, err := env.Serialize()
	if err != nil {
		return fmt.Errorf("serialization error: %w", err)
	}
	return writeFrame(w, data)
}
