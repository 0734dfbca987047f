package custom

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusBusy  = "busy"
	StatusError = "error"
)

const headerSize = 4

// Frame is one inbound message.
type Frame struct {
	// ID correlates replies with the frame. When empty, replies carry the
	// event id instead.
	ID string `msgpack:"id"`
	// ClientID overrides the per-connection client id.
	ClientID string `msgpack:"client_id,omitempty"`
	Route    string `msgpack:"route,omitempty"`
	Body     []byte `msgpack:"body"`
}

// Reply is one outbound message.
type Reply struct {
	ID     string `msgpack:"id"`
	Status string `msgpack:"status"`
	Body   []byte `msgpack:"body,omitempty"`
	Error  string `msgpack:"error,omitempty"`
}

// WriteMessage encodes v with msgpack behind a 4-byte big-endian length.
func WriteMessage(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)
	_, err = w.Write(buf)
	return err
}

// ReadMessage reads one length-prefixed message into v. A declared length
// above maxSize fails with ErrMessageTooLarge before the body is read; zero
// disables the check.
func ReadMessage(r io.Reader, maxSize int, v any) error {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && uint64(size) > uint64(maxSize) {
		return fmt.Errorf("%w: %d bytes", errspkg.ErrMessageTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
