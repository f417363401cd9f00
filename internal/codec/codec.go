// Package codec implements the framed wire format for the shared transport
// between the relay and the extension bridge.
//
// Each frame on the wire is a 4-byte big-endian length prefix followed by a
// JSON-encoded logical message. A single frame never exceeds FrameLimit
// bytes of payload; logical messages whose serialized form is larger are
// split into an ordered sequence of chunk frames and reassembled by the
// receiving side before being surfaced to callers. Callers never see a
// partial message.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	apperrors "github.com/tabremote/relay/internal/errors"
)

// FrameLimit is the maximum payload size of a single frame. This mirrors
// the extension runtime's message-size ceiling; anything bigger must be
// chunked.
const FrameLimit = 1 << 20 // 1 MiB

// headerSize is the length-prefix size preceding every frame payload.
const headerSize = 4

// chunkDataSize is how many raw payload bytes go into each chunk frame.
// Chunk data rides inside JSON as base64, which inflates it by 4/3, so the
// raw size is chosen to keep the serialized chunk frame comfortably under
// FrameLimit including the envelope fields.
const chunkDataSize = 600 << 10

// MessageType identifies the kind of logical message on the shared transport.
type MessageType string

const (
	// MessageCommand carries an automation command toward the extension.
	MessageCommand MessageType = "command"

	// MessageResponse carries the terminal reply to a command.
	MessageResponse MessageType = "response"

	// MessageEvent carries an asynchronous browser/tab notification not
	// tied to any request.
	MessageEvent MessageType = "event"

	// MessageReady is sent by the extension bridge once it is able to
	// execute commands.
	MessageReady MessageType = "ready"

	// MessageLog carries extension-side log lines for diagnostics.
	MessageLog MessageType = "log"

	// messageChunk is a fragment of an oversized logical message. It is
	// internal to the codec; callers never observe chunk frames.
	messageChunk MessageType = "chunk"
)

// ErrorInfo is the structured error carried inside response messages.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogicalMessage is the envelope exchanged with the extension bridge.
// The relay treats Action, Params, and Result opaquely; only the envelope
// fields are interpreted.
type LogicalMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Action    string          `json:"action,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// chunkFrame is the on-wire form of one fragment of an oversized message.
type chunkFrame struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"messageId"`
	Seq       int         `json:"seq"`
	Total     int         `json:"total"`
	Data      []byte      `json:"data"`
}

// Encode serializes a logical message into one or more wire frames, each
// carrying its length prefix. Messages that fit under FrameLimit produce a
// single frame; larger messages produce a contiguous chunk sequence under a
// fresh message id.
func Encode(msg *LogicalMessage) ([][]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal logical message: %w", err)
	}

	if len(payload) <= FrameLimit {
		return [][]byte{frame(payload)}, nil
	}

	// Oversized: split the serialized bytes into chunk frames. A fresh
	// UUID per message guarantees no id reuse while a reassembly for an
	// earlier message could still be pending on the receiver.
	messageID := uuid.NewString()
	total := (len(payload) + chunkDataSize - 1) / chunkDataSize
	frames := make([][]byte, 0, total)

	for seq := 0; seq < total; seq++ {
		start := seq * chunkDataSize
		end := start + chunkDataSize
		if end > len(payload) {
			end = len(payload)
		}

		chunkPayload, err := json.Marshal(&chunkFrame{
			Type:      messageChunk,
			MessageID: messageID,
			Seq:       seq,
			Total:     total,
			Data:      payload[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("marshal chunk %d/%d: %w", seq, total, err)
		}
		if len(chunkPayload) > FrameLimit {
			// chunkDataSize guarantees this never happens; treat it as
			// a programming error rather than silently splitting again.
			return nil, fmt.Errorf("chunk frame of %d bytes exceeds frame limit", len(chunkPayload))
		}
		frames = append(frames, frame(chunkPayload))
	}

	return frames, nil
}

// frame prepends the 4-byte big-endian length prefix to a payload.
func frame(payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

// reassembly buffers the chunk sequence of one in-flight oversized message.
type reassembly struct {
	total int
	parts [][]byte
}

// Decoder converts a byte stream back into logical messages. It tolerates
// arbitrary fragmentation of the underlying transport: Feed may be called
// with any slice boundaries and yields a message only once all of its bytes
// (including every chunk of an oversized message) have arrived.
//
// A Decoder is owned by a single goroutine; it is not safe for concurrent use.
type Decoder struct {
	buf     bytes.Buffer
	pending map[string]*reassembly
}

// NewDecoder creates an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{pending: make(map[string]*reassembly)}
}

// Reset discards all buffered bytes and partial chunk sequences. The
// transport endpoint calls this when a connection is replaced so stale
// fragments from the previous connection can never contaminate the next.
func (d *Decoder) Reset() {
	d.buf.Reset()
	d.pending = make(map[string]*reassembly)
}

// Feed appends raw transport bytes and returns every logical message that
// became complete. A decode error means the stream is unrecoverable; the
// caller should drop the connection and Reset the decoder.
func (d *Decoder) Feed(p []byte) ([]*LogicalMessage, error) {
	d.buf.Write(p)

	var msgs []*LogicalMessage
	for {
		payload, ok, err := d.nextFrame()
		if err != nil {
			return msgs, err
		}
		if !ok {
			return msgs, nil
		}

		msg, err := d.decodeFrame(payload)
		if err != nil {
			return msgs, err
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
}

// nextFrame extracts one length-prefixed payload from the buffer.
// Returns ok=false when the buffer does not yet hold a complete frame.
func (d *Decoder) nextFrame() ([]byte, bool, error) {
	if d.buf.Len() < headerSize {
		return nil, false, nil
	}

	header := d.buf.Bytes()[:headerSize]
	size := binary.BigEndian.Uint32(header)
	if size == 0 || size > FrameLimit {
		return nil, false, apperrors.New(apperrors.CodeTransportDecodeFailed,
			fmt.Sprintf("invalid frame length %d", size))
	}

	if d.buf.Len() < headerSize+int(size) {
		return nil, false, nil
	}

	d.buf.Next(headerSize)
	payload := make([]byte, size)
	copy(payload, d.buf.Next(int(size)))
	return payload, true, nil
}

// decodeFrame turns one frame payload into a logical message, buffering
// chunk frames until their sequence completes. Returns nil for chunk frames
// that do not yet complete a message.
func (d *Decoder) decodeFrame(payload []byte) (*LogicalMessage, error) {
	// Peek at the type before committing to a shape.
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportDecodeFailed, "unparseable frame", err)
	}

	if head.Type != messageChunk {
		var msg LogicalMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeTransportDecodeFailed, "unparseable logical message", err)
		}
		return &msg, nil
	}

	var chunk chunkFrame
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportDecodeFailed, "unparseable chunk frame", err)
	}
	return d.acceptChunk(&chunk)
}

// acceptChunk validates sequencing and assembles the original message once
// the final chunk arrives.
func (d *Decoder) acceptChunk(chunk *chunkFrame) (*LogicalMessage, error) {
	if chunk.MessageID == "" || chunk.Total <= 0 || chunk.Seq < 0 || chunk.Seq >= chunk.Total {
		return nil, apperrors.New(apperrors.CodeTransportDecodeFailed,
			fmt.Sprintf("chunk %s seq %d/%d out of range", chunk.MessageID, chunk.Seq, chunk.Total))
	}

	r := d.pending[chunk.MessageID]
	if r == nil {
		// First chunk for this message id must open the sequence.
		if chunk.Seq != 0 {
			return nil, apperrors.New(apperrors.CodeTransportDecodeFailed,
				fmt.Sprintf("chunk sequence %s started at seq %d", chunk.MessageID, chunk.Seq))
		}
		r = &reassembly{total: chunk.Total}
		d.pending[chunk.MessageID] = r
	}

	if chunk.Total != r.total {
		delete(d.pending, chunk.MessageID)
		return nil, apperrors.New(apperrors.CodeTransportDecodeFailed,
			fmt.Sprintf("chunk sequence %s changed total from %d to %d", chunk.MessageID, r.total, chunk.Total))
	}
	if chunk.Seq != len(r.parts) {
		delete(d.pending, chunk.MessageID)
		return nil, apperrors.New(apperrors.CodeTransportDecodeFailed,
			fmt.Sprintf("chunk sequence %s expected seq %d, got %d", chunk.MessageID, len(r.parts), chunk.Seq))
	}

	r.parts = append(r.parts, chunk.Data)
	if len(r.parts) < r.total {
		return nil, nil
	}

	delete(d.pending, chunk.MessageID)
	var msg LogicalMessage
	if err := json.Unmarshal(bytes.Join(r.parts, nil), &msg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransportDecodeFailed, "unparseable reassembled message", err)
	}
	return &msg, nil
}

// PendingReassemblies reports how many chunk sequences are incomplete.
// Exposed for the endpoint's diagnostics.
func (d *Decoder) PendingReassemblies() int {
	return len(d.pending)
}
