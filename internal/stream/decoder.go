// Package stream decodes the event stream produced by a message send.
//
// The wire format is Server-Sent-Events text: newline-delimited lines where
// "event: " names a record and "data: " carries a JSON payload. Payloads carry
// either a partial-content token, a mid-stream error, or the terminal pair of
// finalized user and assistant messages.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/pkg/metrics"
)

// ErrIncompleteStream indicates the stream ended without a terminal record.
// Partial-content tokens alone are not a successful send; treating them as one
// would strand the optimistic message in the cache.
var ErrIncompleteStream = errors.New("stream ended without a terminal record")

// Error is a failure reported by the backend inside the stream itself.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream error: %s", e.Message)
}

// ContentFunc receives each partial-content token as it is decoded.
type ContentFunc func(content string)

// payload is the union of fields a data line may carry. Content is a pointer
// so an empty token is distinguishable from an absent field.
type payload struct {
	Content     *string        `json:"content"`
	Error       string         `json:"error"`
	Message     *model.Message `json:"message"`
	UserMessage *model.Message `json:"user_message"`
	Usage       *model.Usage   `json:"usage"`
}

var dataPrefix = []byte("data:")

// Decoder reassembles SSE lines from arbitrarily chunked writes. It buffers an
// incomplete trailing line across writes, so chunk boundaries may fall
// anywhere, including mid-line.
type Decoder struct {
	onContent ContentFunc

	pending []byte
	user    *model.Message
	asst    *model.Message
	usage   *model.Usage
	err     error
}

// NewDecoder creates a decoder. onContent may be nil when the caller does not
// render incremental output.
func NewDecoder(onContent ContentFunc) *Decoder {
	return &Decoder{onContent: onContent}
}

// Write feeds the next chunk to the decoder. An empty chunk is a valid no-op.
// Once a mid-stream error payload has been seen, Write returns that error so
// the caller stops reading.
func (d *Decoder) Write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}

	d.pending = append(d.pending, p...)

	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		line := d.pending[:i]
		d.pending = d.pending[i+1:]

		d.processLine(line)
		if d.err != nil {
			return len(p), d.err
		}
	}

	return len(p), nil
}

// processLine handles one complete line. Lines that are not data lines
// (event names, comments, blank separators) carry no payload and are skipped.
func (d *Decoder) processLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	data := bytes.TrimSpace(line[len(dataPrefix):])
	if len(data) == 0 {
		return
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		// Malformed lines are skipped, not fatal.
		return
	}

	switch {
	case p.Error != "":
		d.err = &Error{Message: p.Error}

	case p.Message != nil && p.UserMessage != nil:
		d.user = p.UserMessage
		d.asst = p.Message
		d.usage = p.Usage

	case p.Content != nil:
		metrics.StreamTokensTotal.Inc()
		if d.onContent != nil {
			d.onContent(*p.Content)
		}
	}
}

// Result finalizes decoding after the underlying stream has ended. A trailing
// line without a newline is processed first. It returns the terminal pair, the
// mid-stream error if one was seen, or ErrIncompleteStream.
func (d *Decoder) Result() (*model.SendResult, error) {
	if d.err == nil && len(d.pending) > 0 {
		line := d.pending
		d.pending = nil
		d.processLine(line)
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.user == nil || d.asst == nil {
		return nil, ErrIncompleteStream
	}

	return &model.SendResult{
		UserMessage:      *d.user,
		AssistantMessage: *d.asst,
		Usage:            d.usage,
	}, nil
}

// Decode drives a Decoder from r until EOF, honoring ctx between reads.
func Decode(ctx context.Context, r io.Reader, onContent ContentFunc) (*model.SendResult, error) {
	d := NewDecoder(onContent)
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := d.Write(buf[:n]); werr != nil {
				return nil, werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}

	return d.Result()
}
