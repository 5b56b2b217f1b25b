package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/dcabacktest/internal/services"
	"nhooyr.io/websocket"
)

// writeTimeout bounds a single websocket message write
const writeTimeout = 10 * time.Second

// Stream message types
const (
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"
)

// StreamMessage is one server message of the batch progress stream
type StreamMessage struct {
	Type    string                  `json:"type"`
	Current int                     `json:"current,omitempty"`
	Total   int                     `json:"total,omitempty"`
	Message string                  `json:"message,omitempty"`
	Data    *services.BatchResponse `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Status  int                     `json:"status,omitempty"`
}

// HandleBatchStream handles GET /api/backtest/batch/stream
// The client sends one BatchRequest as a text message. The server answers
// with a progress message per completed combination, then a single result
// or error message, and closes the connection. Closing the connection early
// cancels the sweep.
func (h *Handler) HandleBatchStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")
	conn.SetReadLimit(maxRequestBytes)

	ctx := r.Context()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		h.log.Debug().Err(err).Msg("Batch stream closed before request")
		return
	}
	if msgType != websocket.MessageText {
		h.fail(ctx, conn, http.StatusBadRequest, "expected a text message")
		return
	}

	var req services.BatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.fail(ctx, conn, http.StatusBadRequest, "Invalid request body")
		return
	}

	// The client sends nothing more; CloseRead cancels ctx when it disconnects.
	ctx = conn.CloseRead(ctx)

	resp, err := h.service.RunBatch(ctx, req, func(current, total int, message string) {
		_ = h.send(ctx, conn, StreamMessage{Type: MessageProgress, Current: current, Total: total, Message: message})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.log.Info().Str("symbol", req.Symbol).Msg("Batch stream cancelled by client")
			return
		}
		status := errorStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("Failed to run batch backtest")
			msg = "Failed to run batch backtest"
		}
		h.fail(ctx, conn, status, msg)
		return
	}

	if err := h.send(ctx, conn, StreamMessage{Type: MessageResult, Data: resp}); err != nil {
		h.log.Warn().Err(err).Msg("Failed to send batch result")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) fail(ctx context.Context, conn *websocket.Conn, status int, msg string) {
	if err := h.send(ctx, conn, StreamMessage{Type: MessageError, Error: msg, Status: status}); err != nil {
		h.log.Warn().Err(err).Msg("Failed to send stream error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
