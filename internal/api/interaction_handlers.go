package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/tripfeed/internal/interaction"
	"github.com/onnwee/tripfeed/internal/middleware"
	"github.com/onnwee/tripfeed/internal/validate"
)

// InteractionRecorder stores an interaction synchronously.
type InteractionRecorder interface {
	Record(ctx context.Context, e interaction.Event) (interaction.Event, error)
}

// InteractionPublisher hands an interaction to the event bus.
type InteractionPublisher interface {
	PublishInteraction(ctx context.Context, e interaction.Event) error
}

// InteractionRequest is the body of POST /v1/interactions.
type InteractionRequest struct {
	ContentID       string  `json:"content_id" validate:"required,identifier"`
	Action          string  `json:"action" validate:"required,oneof=click duration dislike like bookmark"`
	DurationSeconds float64 `json:"duration_seconds" validate:"gte=0,required_if=Action duration"`
}

// InteractionResponse is the body returned for an accepted interaction.
type InteractionResponse struct {
	ID        string `json:"id,omitempty"`
	Recorded  bool   `json:"recorded"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Queued    bool   `json:"queued,omitempty"`
}

// InteractionHandlers records user interactions.
type InteractionHandlers struct {
	recorder  InteractionRecorder
	publisher InteractionPublisher
	logger    *slog.Logger
}

// NewInteractionHandlers creates the interaction handlers. With a publisher
// the event is queued on the bus and answered with 202; otherwise it is
// recorded inline.
func NewInteractionHandlers(recorder InteractionRecorder, publisher InteractionPublisher, logger *slog.Logger) *InteractionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &InteractionHandlers{recorder: recorder, publisher: publisher, logger: logger}
}

// PostInteraction handles POST /v1/interactions. Requires authentication.
func (h *InteractionHandlers) PostInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeCodedError(w, r, ErrCodeValidation, err.Error())
		return
	}

	ctx := r.Context()
	e := interaction.Event{
		UserID:          middleware.GetUserID(ctx),
		ContentID:       req.ContentID,
		Action:          interaction.Action(req.Action),
		DurationSeconds: req.DurationSeconds,
	}

	if h.publisher != nil {
		queued := e
		queued.ID = uuid.NewString()
		queued.CreatedAt = time.Now().UTC()
		err := h.publisher.PublishInteraction(ctx, queued)
		if err == nil {
			writeJSON(w, r, http.StatusAccepted, InteractionResponse{ID: queued.ID, Queued: true})
			return
		}
		h.logger.WarnContext(ctx, "publish failed, recording inline", "error", err)
	}

	recorded, err := h.recorder.Record(ctx, e)
	switch {
	case interaction.IsDuplicate(err):
		writeJSON(w, r, http.StatusOK, InteractionResponse{ID: recorded.ID, Duplicate: true})
	case err != nil:
		code, msg := errorCode(err)
		if code == ErrCodeInternal {
			h.logger.ErrorContext(ctx, "failed to record interaction", "error", err)
		}
		writeCodedError(w, r, code, msg)
	default:
		writeJSON(w, r, http.StatusCreated, InteractionResponse{ID: recorded.ID, Recorded: true})
	}
}
