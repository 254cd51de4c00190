package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/onnwee/tripfeed/internal/chat"
	"github.com/onnwee/tripfeed/internal/middleware"
	"github.com/onnwee/tripfeed/internal/validate"
)

// Chatter answers chat turns.
type Chatter interface {
	Turn(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message   string                `json:"message" validate:"required"`
	SessionID string                `json:"session_id" validate:"omitempty,max=128"`
	Context   *chat.FollowUpContext `json:"context"`
	Lat       *float64              `json:"lat" validate:"required_with=Lng,omitempty,latitude"`
	Lng       *float64              `json:"lng" validate:"required_with=Lat,omitempty,longitude"`
}

// ChatHandlers serves conversational recommendations.
type ChatHandlers struct {
	chat   Chatter
	logger *slog.Logger
}

// NewChatHandlers creates the chat handlers.
func NewChatHandlers(c Chatter, logger *slog.Logger) *ChatHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandlers{chat: c, logger: logger}
}

// PostChat handles POST /v1/chat.
func (h *ChatHandlers) PostChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeCodedError(w, r, ErrCodeValidation, err.Error())
		return
	}

	ctx := r.Context()
	resp, err := h.chat.Turn(ctx, chat.Request{
		UserID:    middleware.GetUserID(ctx),
		SessionID: req.SessionID,
		Message:   req.Message,
		Context:   req.Context,
		Lat:       req.Lat,
		Lng:       req.Lng,
	})
	if err != nil {
		code, msg := errorCode(err)
		if code != ErrCodeValidation {
			h.logger.ErrorContext(ctx, "chat turn failed", "error", err)
		}
		writeCodedError(w, r, code, msg)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
