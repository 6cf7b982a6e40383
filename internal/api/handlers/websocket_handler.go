package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/middleware/orgscope"
	"github.com/pitch-perfect/backend/internal/middleware/validation"
	"github.com/pitch-perfect/backend/internal/pitch"
	"github.com/pitch-perfect/backend/internal/transcription"
	"github.com/pitch-perfect/backend/pkg/apperrors"
	"github.com/pitch-perfect/backend/pkg/logger"
)

type Submitter interface {
	Submit(ctx context.Context, req pitch.SubmitRequest) (*pitch.Pitch, error)
}

// Limiter spends one unit of an organization's request budget.
type Limiter interface {
	Allow(key string) bool
}

type WebSocketConfig struct {
	// Limiter, when set, is charged once per evaluate message.
	Limiter       Limiter
	MaxTextLength int
}

type WebSocketHandler struct {
	pitches Submitter
	cfg     WebSocketConfig
}

func NewWebSocketHandler(pitches Submitter, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = validation.DefaultMaxTextLength
	}
	return &WebSocketHandler{
		pitches: pitches,
		cfg:     cfg,
	}
}

// identity is the caller captured from the upgrade request headers.
type identity struct {
	orgID  string
	userID string
}

type evaluateMessage struct {
	Type              string `json:"type"`
	Title             string `json:"title"`
	Text              string `json:"text"`
	OrgID             string `json:"orgId"`
	UserID            string `json:"userId"`
	GenerateQuestions bool   `json:"generateQuestions"`
}

// sendFunc writes one JSON message to the client.
type sendFunc func(msg interface{}) error

// HandleConnection evaluates text pitches sent over the socket and streams
// stage events until the pitch completes or fails.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	var caller identity
	caller.orgID, _ = c.Locals(orgscope.LocalOrgID).(string)
	caller.userID, _ = c.Locals(orgscope.LocalUserID).(string)

	var mu sync.Mutex
	send := func(msg interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		return c.WriteJSON(msg)
	}

	for {
		var msg evaluateMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if err := h.process(ctx, caller, msg, send); err != nil {
			logger.Error("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// process runs one message. The returned error is a write failure only;
// pipeline failures are reported to the client as error messages.
// Header identity wins; the message may name an organization only when the
// upgrade request carried none.
func (h *WebSocketHandler) process(ctx context.Context, caller identity, msg evaluateMessage, send sendFunc) error {
	if msg.Type != "evaluate" {
		return h.sendError(send, apperrors.NewInvalidInputError("unsupported message type"))
	}
	if caller.orgID != "" {
		if msg.OrgID != "" && msg.OrgID != caller.orgID {
			logger.Warn("Rejected WebSocket message for another organization",
				zap.String("org_id", caller.orgID),
				zap.String("requested_org_id", msg.OrgID),
			)
			return h.sendError(send, apperrors.NewInvalidInputError("organization does not match connection"))
		}
		msg.OrgID = caller.orgID
	}
	if caller.userID != "" {
		msg.UserID = caller.userID
	}
	if strings.TrimSpace(msg.OrgID) == "" {
		return h.sendError(send, apperrors.NewInvalidInputError("organization is required"))
	}

	if h.cfg.Limiter != nil && !h.cfg.Limiter.Allow(msg.OrgID) {
		logger.Warn("Rate limit exceeded", zap.String("key", msg.OrgID), zap.String("path", "/ws/evaluate"))
		return h.sendError(send, apperrors.NewRateLimitedError())
	}

	switch err := validation.CheckText(msg.Text, h.cfg.MaxTextLength); {
	case errors.Is(err, validation.ErrTextTooLong):
		return h.sendError(send, apperrors.NewInvalidInputError("pitch text exceeds maximum length"))
	case err != nil:
		logger.Warn("Rejected WebSocket pitch text with NUL bytes", zap.String("org_id", msg.OrgID))
		return h.sendError(send, apperrors.NewInvalidInputError("invalid pitch text"))
	}

	logger.Info("Processing WebSocket evaluation", zap.String("org_id", msg.OrgID))

	var writeErr error
	p, err := h.pitches.Submit(ctx, pitch.SubmitRequest{
		OrgID:             msg.OrgID,
		UserID:            msg.UserID,
		Title:             msg.Title,
		Source:            transcription.Source{Kind: transcription.KindText, Text: msg.Text},
		GenerateQuestions: msg.GenerateQuestions,
		Progress: func(ev pitch.Event) {
			if writeErr != nil {
				return
			}
			writeErr = h.sendStatus(send, ev)
		},
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return h.sendError(send, err)
	}

	return h.sendComplete(send, p)
}

func (h *WebSocketHandler) sendStatus(send sendFunc, ev pitch.Event) error {
	return send(map[string]interface{}{
		"type":      "status",
		"stage":     ev.Stage,
		"pitchId":   ev.PitchID,
		"criterion": ev.Criterion,
		"score":     ev.Score,
		"degraded":  ev.Degraded,
		"completed": ev.Completed,
		"total":     ev.Total,
	})
}

func (h *WebSocketHandler) sendComplete(send sendFunc, p *pitch.Pitch) error {
	return send(map[string]interface{}{
		"type":  "complete",
		"pitch": p,
	})
}

func (h *WebSocketHandler) sendError(send sendFunc, err error) error {
	return send(map[string]interface{}{
		"type":  "error",
		"error": toErrorBody(err),
	})
}
