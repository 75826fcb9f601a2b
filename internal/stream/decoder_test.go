package stream

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const terminalLine = `data: {"message":{"id":"m2","conversation_id":"c1","content":"Hello there","role":"assistant"},"user_message":{"id":"m1","conversation_id":"c1","content":"Hi","role":"user"},"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`

func wellFormedStream() string {
	return strings.Join([]string{
		"event: content",
		`data: {"content":"Hello"}`,
		"",
		"event: content",
		`data: {"content":" there"}`,
		"",
		"event: done",
		terminalLine,
		"",
	}, "\n")
}

func decodeAll(t *testing.T, input string, chunks int) ([]string, *Decoder, error) {
	t.Helper()

	var tokens []string
	d := NewDecoder(func(content string) {
		tokens = append(tokens, content)
	})

	data := []byte(input)
	size := len(data) / chunks
	if size == 0 {
		size = 1
	}
	var werr error
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		if _, werr = d.Write(data[start:end]); werr != nil {
			break
		}
	}
	return tokens, d, werr
}

func TestDecodeWellFormedStream(t *testing.T) {
	tokens, d, werr := decodeAll(t, wellFormedStream(), 1)
	require.NoError(t, werr)

	result, err := d.Result()
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", " there"}, tokens)
	assert.Equal(t, "Hi", result.UserMessage.Content)
	assert.Equal(t, "Hello there", result.AssistantMessage.Content)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 3, result.Usage.TotalTokens)
}

func TestChunkBoundariesDoNotChangeOutput(t *testing.T) {
	input := wellFormedStream()

	wantTokens, d, werr := decodeAll(t, input, 1)
	require.NoError(t, werr)
	want, err := d.Result()
	require.NoError(t, err)

	// Arbitrary chunk sizes, including ones that split every line mid-token.
	for _, chunks := range []int{2, 3, 7, len(input)} {
		tokens, d, werr := decodeAll(t, input, chunks)
		require.NoError(t, werr, "chunks=%d", chunks)
		got, err := d.Result()
		require.NoError(t, err, "chunks=%d", chunks)

		assert.Equal(t, wantTokens, tokens, "chunks=%d", chunks)
		assert.Equal(t, want, got, "chunks=%d", chunks)
	}
}

func TestMidStreamErrorIsFatal(t *testing.T) {
	input := strings.Join([]string{
		`data: {"content":"partial"}`,
		"",
		`data: {"error":"model overloaded"}`,
		"",
		`data: {"content":"never delivered"}`,
		"",
	}, "\n")

	tokens, d, werr := decodeAll(t, input, 1)

	var streamErr *Error
	require.ErrorAs(t, werr, &streamErr)
	assert.Equal(t, "model overloaded", streamErr.Message)
	assert.Equal(t, []string{"partial"}, tokens)

	_, err := d.Result()
	require.ErrorAs(t, err, &streamErr)
}

func TestStreamWithoutTerminalRecordIsIncomplete(t *testing.T) {
	input := strings.Join([]string{
		`data: {"content":"Hello"}`,
		"",
		`data: {"content":" there"}`,
		"",
	}, "\n")

	_, d, werr := decodeAll(t, input, 1)
	require.NoError(t, werr)

	_, err := d.Result()
	assert.ErrorIs(t, err, ErrIncompleteStream)
}

func TestMalformedDataLinesAreSkipped(t *testing.T) {
	input := strings.Join([]string{
		`data: {not json at all`,
		"",
		`data: {"content":"ok"}`,
		"",
		": comment line",
		"event: done",
		terminalLine,
		"",
	}, "\n")

	tokens, d, werr := decodeAll(t, input, 1)
	require.NoError(t, werr)

	result, err := d.Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, tokens)
	assert.Equal(t, "Hello there", result.AssistantMessage.Content)
}

func TestEmptyTokenIsStillDelivered(t *testing.T) {
	input := strings.Join([]string{
		`data: {"content":""}`,
		"",
		terminalLine,
		"",
	}, "\n")

	tokens, d, werr := decodeAll(t, input, 1)
	require.NoError(t, werr)
	_, err := d.Result()
	require.NoError(t, err)

	assert.Equal(t, []string{""}, tokens)
}

func TestEmptyWriteIsANoOp(t *testing.T) {
	d := NewDecoder(nil)
	n, err := d.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTerminalLineWithoutTrailingNewline(t *testing.T) {
	input := `data: {"content":"Hello"}` + "\n\n" + terminalLine

	_, d, werr := decodeAll(t, input, 1)
	require.NoError(t, werr)

	result, err := d.Result()
	require.NoError(t, err)
	assert.Equal(t, "Hello there", result.AssistantMessage.Content)
}

func TestCarriageReturnLineEndings(t *testing.T) {
	input := `data: {"content":"Hello"}` + "\r\n\r\n" + terminalLine + "\r\n"

	tokens, d, werr := decodeAll(t, input, 1)
	require.NoError(t, werr)

	result, err := d.Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello"}, tokens)
	assert.Equal(t, "Hi", result.UserMessage.Content)
}

func TestDecodeHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Decode(ctx, strings.NewReader(wellFormedStream()), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDecodeReader(t *testing.T) {
	var tokens []string
	result, err := Decode(context.Background(), strings.NewReader(wellFormedStream()), func(content string) {
		tokens = append(tokens, content)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " there"}, tokens)
	assert.Equal(t, "Hello there", result.AssistantMessage.Content)
}
