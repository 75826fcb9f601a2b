package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/internal/stream"
	"github.com/verdantchat/chatsync/pkg/metrics"
)

type sendEnvelope struct {
	Message string           `json:"message"`
	Data    model.SendResult `json:"data"`
}

type sendRequest struct {
	Content       string `json:"content"`
	ModelName     string `json:"model_name,omitempty"`
	ModelProvider string `json:"model_provider,omitempty"`
}

// SendMessage posts a message and waits for the complete response. Sends are
// never retried; a duplicate assistant turn is worse than a surfaced failure.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, opts model.SendOptions) (*model.SendResult, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"

	var body []byte
	contentType := "application/json"
	if len(opts.Attachments) > 0 {
		var err error
		body, contentType, err = encodeMultipart(content, opts)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		body, err = json.Marshal(sendRequest{
			Content:       content,
			ModelName:     opts.ModelName,
			ModelProvider: opts.ModelProvider,
		})
		if err != nil {
			return nil, fmt.Errorf("encode send request: %w", err)
		}
	}

	respBody, err := c.do(ctx, "send_message", http.MethodPost, path, body, contentType)
	if err != nil {
		return nil, err
	}

	var env sendEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &env.Data, nil
}

// SendMessageStream posts a message and decodes the event stream response,
// invoking onContent for each partial token. The request body is multipart so
// attachments ride along with the text fields.
func (c *Client) SendMessageStream(ctx context.Context, conversationID, content string, opts model.SendOptions, onContent stream.ContentFunc) (*model.SendResult, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrValidation)
	}

	ctx, span := c.tracer.Start(ctx, "api.send_message_stream",
		trace.WithAttributes(attribute.String("chatsync.op", "send_message_stream")))
	defer span.End()

	if err := c.ensureCSRF(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, contentType, err := encodeMultipart(content, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, contentType)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamc.Do(req)
	if err != nil {
		metrics.RecordAPIRequest("send_message_stream", "transport_error", time.Since(start).Seconds())
		metrics.StreamsTotal.WithLabelValues("transport_error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("send message stream: %w", err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		metrics.RecordAPIRequest("send_message_stream", status, time.Since(start).Seconds())
		metrics.StreamsTotal.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, status)
		if resp.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{Resource: "conversation"}
		}
		return nil, &RequestError{Status: resp.StatusCode, Body: string(respBody)}
	}

	result, err := stream.Decode(ctx, resp.Body, onContent)
	metrics.RecordAPIRequest("send_message_stream", status, time.Since(start).Seconds())
	if err != nil {
		metrics.StreamsTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("stream failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.StreamsTotal.WithLabelValues("completed").Inc()
	return result, nil
}

// encodeMultipart builds the multipart form body for a send: text fields plus
// one file part per attachment.
func encodeMultipart(content string, opts model.SendOptions) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("content", content); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	if opts.ModelName != "" {
		if err := w.WriteField("model_name", opts.ModelName); err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
	}
	if opts.ModelProvider != "" {
		if err := w.WriteField("model_provider", opts.ModelProvider); err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
	}
	for _, a := range opts.Attachments {
		fw, err := w.CreateFormFile("attachments[]", a.Name)
		if err != nil {
			return nil, "", fmt.Errorf("encode attachment %q: %w", a.Name, err)
		}
		if _, err := fw.Write(a.Content); err != nil {
			return nil, "", fmt.Errorf("encode attachment %q: %w", a.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
