package room

import (
	"context"
	"errors"
	"time"

	"voiceplane/pkg/config"
	"voiceplane/pkg/db/option"
	"voiceplane/pkg/db/pagination"
	"voiceplane/pkg/errutil"
	"voiceplane/pkg/livekit"
	"voiceplane/pkg/repository"
	"voiceplane/pkg/security"
	"voiceplane/pkg/task"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const nameAttempts = 3

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     repository.Repository[Room]
	tokens   *livekit.TokenBuilder
	enqueuer task.Enqueuer
	ttl      time.Duration
}

type ServiceParams struct {
	fx.In
	Cfg      *config.Config
	DB       *gorm.DB
	Node     *snowflake.Node
	Tokens   *livekit.TokenBuilder
	Enqueuer task.Enqueuer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		repo:     repository.ProvideStore[Room](p.DB),
		tokens:   p.Tokens,
		enqueuer: p.Enqueuer,
		ttl:      p.Cfg.Rooms.TTL,
	}
}

// Create opens a room with a generated name and schedules its cleanup.
// Name collisions are retried with fresh random material.
func (s *Service) Create(ctx context.Context, ownerID string) (*Room, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if ownerID == "" {
		return nil, errutil.BadRequest("owner id is required")
	}

	for attempt := 0; attempt < nameAttempts; attempt++ {
		suffix, err := security.RandomHex(4)
		if err != nil {
			return nil, errutil.Internal("failed to generate room name")
		}

		r := &Room{
			ID:      s.node.Generate().String(),
			Name:    "room-" + suffix,
			OwnerID: ownerID,
			Status:  StatusActive,
		}

		if err := s.repo.Create(ctx, r); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			zap.L().Error("failed to persist room", zap.Error(err))
			return nil, errutil.Unavailable("room store unavailable", errutil.WithErr(err))
		}

		s.scheduleCleanup(r)

		zap.L().Info("room created",
			zap.String("room_id", r.ID),
			zap.String("room_name", r.Name),
			zap.String("owner_id", ownerID),
		)
		return r, nil
	}

	return nil, errutil.Conflict("room name collided, retry")
}

// scheduleCleanup enqueues the deferred close. Failure to enqueue does not
// fail creation; the room stays closable by hand and the next worker sweep.
func (s *Service) scheduleCleanup(r *Room) {
	t, err := NewCleanupTask(r.ID)
	if err != nil {
		zap.L().Error("failed to build cleanup task", zap.String("room_id", r.ID), zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(t, asynqCleanupOptions(s.ttl)...); err != nil {
		zap.L().Error("failed to schedule room cleanup", zap.String("room_id", r.ID), zap.Error(err))
	}
}

// GetByID returns (nil, nil) when unknown.
func (s *Service) GetByID(ctx context.Context, id string) (*Room, error) {
	r, err := s.repo.FindOne(ctx, &Room{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("room store unavailable", errutil.WithErr(err))
	}
	return r, nil
}

// List returns a page of the owner's active rooms, newest first.
func (s *Service) List(ctx context.Context, ownerID string, page pagination.Pagination) ([]*Room, error) {
	rooms, err := s.repo.Find(ctx, &Room{OwnerID: ownerID, Status: StatusActive},
		option.OrderBy("created_at DESC"),
		option.ApplyPagination(page),
	)
	if err != nil {
		zap.L().Error("failed to list rooms", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, errutil.Unavailable("room store unavailable", errutil.WithErr(err))
	}
	return rooms, nil
}

// Close transitions a room to closed. Returns false when the room does not
// exist or is already closed.
func (s *Service) Close(ctx context.Context, id string) (bool, error) {
	ok, err := MarkClosed(ctx, s.db, id, time.Now())
	if err != nil {
		zap.L().Error("failed to close room", zap.String("room_id", id), zap.Error(err))
		return false, errutil.Unavailable("room store unavailable", errutil.WithErr(err))
	}

	if ok {
		zap.L().Info("room closed", zap.String("room_id", id))
	}
	return ok, nil
}

// JoinToken mints a LiveKit access token for an active room. The token
// expires with the room, and metadata is participant context only; the
// credential that authorized the join is never embedded.
func (s *Service) JoinToken(ctx context.Context, roomID, identity string, metadata map[string]any) (string, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if identity == "" {
		return "", errutil.BadRequest("participant identity is required")
	}

	r, err := s.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", errutil.NotFound("room not found")
	}
	if !r.IsActive() {
		return "", errutil.BadRequest("room is closed")
	}

	remaining := time.Until(r.CreatedAt.Add(s.ttl))
	if remaining <= 0 {
		return "", errutil.BadRequest("room has expired")
	}

	token, err := s.tokens.JoinToken(identity, r.Name, remaining, metadata)
	if err != nil {
		zap.L().Error("failed to mint join token", zap.String("room_id", r.ID), zap.Error(err))
		return "", errutil.Internal("failed to mint join token")
	}

	zap.L().Info("join token issued",
		zap.String("room_id", r.ID),
		zap.String("identity", identity),
	)
	return token, nil
}
