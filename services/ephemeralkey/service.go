package ephemeralkey

import (
	"context"
	"errors"
	"time"

	"voiceplane/pkg/db/option"
	"voiceplane/pkg/db/pagination"
	"voiceplane/pkg/errutil"
	"voiceplane/pkg/repository"
	"voiceplane/pkg/security"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Validation reasons. These are normal outcomes of Validate, not errors.
const (
	ReasonNotFound      = "not found"
	ReasonRevoked       = "revoked"
	ReasonExpired       = "expired"
	ReasonUsageExceeded = "usage exceeded"
)

const secretBytes = 32 // 256 bits of random material per secret

// dummyDigest keeps the miss path doing the same comparison work as the
// hit path so response timing does not reveal key existence.
var dummyDigest = security.HashSecret("")

type GenerateInput struct {
	Name       string
	Scopes     ScopeSet
	UserID     string
	TTLSeconds int
	MaxUsage   *int64
	Metadata   map[string]interface{}
}

// GeneratedKey carries the plaintext secret. It exists only in the
// issuance response; the secret is not retrievable afterwards.
type GeneratedKey struct {
	ID        string
	Secret    string
	ExpiresAt time.Time
	Scopes    ScopeSet
}

type Validation struct {
	Valid  bool
	Reason string
	Key    *EphemeralKey
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	repo repository.Repository[EphemeralKey]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		repo: repository.ProvideStore[EphemeralKey](p.DB),
	}
}

// Generate mints a new ephemeral key. Scopes are trusted here; the route
// layer validates them against the whitelist and clamps the TTL before
// calling. The returned secret is shown exactly once.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*GeneratedKey, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("user_id", in.UserID),
	)

	if in.UserID == "" {
		return nil, errutil.BadRequest("user id is required")
	}
	if in.TTLSeconds <= 0 {
		return nil, errutil.BadRequest("ttl must be positive")
	}

	material, err := security.GenerateSecret(secretBytes)
	if err != nil {
		zapLog.Error("failed to generate secret material", zap.Error(err))
		return nil, errutil.Internal("failed to generate key")
	}

	secret := SecretPrefix + material
	now := time.Now()
	userID := in.UserID

	key := &EphemeralKey{
		ID:         s.node.Generate().String(),
		KeyHash:    security.HashSecret(secret),
		Prefix:     SecretPrefix,
		Name:       in.Name,
		Scopes:     pq.StringArray(in.Scopes.Strings()),
		UserID:     &userID,
		ExpiresAt:  now.Add(time.Duration(in.TTLSeconds) * time.Second),
		UsageCount: 0,
		MaxUsage:   in.MaxUsage,
		Metadata:   datatypes.JSONMap(in.Metadata),
	}

	if err := s.repo.Create(ctx, key); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Digest collision; nothing was persisted, caller may retry
			// with fresh random material.
			zapLog.Warn("key hash collision on insert")
			return nil, errutil.Conflict("key generation collided, retry")
		}
		zapLog.Error("failed to persist ephemeral key", zap.Error(err))
		return nil, errutil.Unavailable("key store unavailable", errutil.WithErr(err))
	}

	zapLog.Info("ephemeral key issued",
		zap.String("key_id", key.ID),
		zap.Strings("scopes", in.Scopes.Strings()),
		zap.Time("expires_at", key.ExpiresAt),
	)

	return &GeneratedKey{
		ID:        key.ID,
		Secret:    secret,
		ExpiresAt: key.ExpiresAt,
		Scopes:    in.Scopes,
	}, nil
}

// Validate authenticates a presented secret. Invalid outcomes (unknown,
// revoked, expired, exhausted) are values; only store failures return an
// error. On success the usage counter is advanced atomically.
func (s *Service) Validate(ctx context.Context, presented string) (*Validation, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	digest := security.HashSecret(presented)

	key, err := s.repo.FindOne(ctx, &EphemeralKey{KeyHash: digest})
	if err != nil {
		zap.L().Error("key lookup failed", zap.Error(err))
		return nil, errutil.Unavailable("key store unavailable", errutil.WithErr(err))
	}

	if key == nil {
		// Burn the same comparison work as the found path.
		security.SecretsEqual(digest, dummyDigest)
		return &Validation{Valid: false, Reason: ReasonNotFound}, nil
	}

	if !security.SecretsEqual(digest, key.KeyHash) {
		return &Validation{Valid: false, Reason: ReasonNotFound}, nil
	}

	now := time.Now()
	switch {
	case key.IsRevoked():
		return &Validation{Valid: false, Reason: ReasonRevoked, Key: key}, nil
	case key.IsExpired(now):
		return &Validation{Valid: false, Reason: ReasonExpired, Key: key}, nil
	case key.IsExhausted():
		return &Validation{Valid: false, Reason: ReasonUsageExceeded, Key: key}, nil
	}

	ok, err := ConsumeUse(ctx, s.db, key.ID, now)
	if err != nil {
		zap.L().Error("failed to record key use", zap.String("key_id", key.ID), zap.Error(err))
		return nil, errutil.Unavailable("key store unavailable", errutil.WithErr(err))
	}
	if !ok {
		// A concurrent validation consumed the last allowed use (or the
		// key was revoked in between). Not valid, no retry.
		return &Validation{Valid: false, Reason: ReasonUsageExceeded, Key: key}, nil
	}

	key.UsageCount++
	key.LastUsedAt = &now

	return &Validation{Valid: true, Key: key}, nil
}

// Revoke permanently invalidates a key by its public id. Ownership is the
// caller's check; this performs the state transition only. Returns false
// when the key does not exist or is already revoked.
func (s *Service) Revoke(ctx context.Context, id string) (bool, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	ok, err := MarkRevoked(ctx, s.db, id, time.Now())
	if err != nil {
		zap.L().Error("failed to revoke key", zap.String("key_id", id), zap.Error(err))
		return false, errutil.Unavailable("key store unavailable", errutil.WithErr(err))
	}

	if ok {
		zap.L().Info("ephemeral key revoked", zap.String("key_id", id))
	}

	return ok, nil
}

// GetByID looks a key up by its public identifier, never by hash.
// Returns (nil, nil) when unknown.
func (s *Service) GetByID(ctx context.Context, id string) (*EphemeralKey, error) {
	key, err := s.repo.FindOne(ctx, &EphemeralKey{ID: id})
	if err != nil {
		return nil, errutil.Unavailable("key store unavailable", errutil.WithErr(err))
	}
	return key, nil
}

// List returns a page of the owner's keys, newest first. Hash and secret
// fields are never part of the listing.
func (s *Service) List(ctx context.Context, userID string, page pagination.Pagination) ([]*EphemeralKey, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	keys, err := s.repo.Find(ctx, &EphemeralKey{UserID: &userID},
		option.OrderBy("created_at DESC"),
		option.ApplyPagination(page),
	)
	if err != nil {
		zap.L().Error("failed to list keys", zap.String("user_id", userID), zap.Error(err))
		return nil, errutil.Unavailable("key store unavailable", errutil.WithErr(err))
	}

	return keys, nil
}
