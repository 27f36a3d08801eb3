package room

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeRoomCleanup closes a room once its lifetime lapses.
const TypeRoomCleanup = "room:cleanup"

type cleanupPayload struct {
	RoomID string `json:"room_id"`
}

func NewCleanupTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(cleanupPayload{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("encode cleanup payload: %w", err)
	}
	return asynq.NewTask(TypeRoomCleanup, payload), nil
}

func asynqCleanupOptions(ttl time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.ProcessIn(ttl),
		asynq.Queue("low"),
		asynq.MaxRetry(3),
	}
}

type CleanupHandler struct {
	svc *Service
}

func NewCleanupHandler(svc *Service) *CleanupHandler {
	return &CleanupHandler{svc: svc}
}

// HandleCleanup closes the room named in the payload. A room already
// closed by its owner is not an error.
func (h *CleanupHandler) HandleCleanup(ctx context.Context, t *asynq.Task) error {
	var payload cleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
	}

	closed, err := h.svc.Close(ctx, payload.RoomID)
	if err != nil {
		return fmt.Errorf("close room %s: %w", payload.RoomID, err)
	}

	if closed {
		zap.L().Info("room closed by cleanup", zap.String("room_id", payload.RoomID))
	}
	return nil
}
