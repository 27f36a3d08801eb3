package ephemeralkey

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// SecretPrefix tags every issued secret for recognizability. It is not
// itself secret.
const SecretPrefix = "ek_"

// EphemeralKey is a short-lived, scope-limited credential. Only the sha256
// digest of the secret is ever stored; the plaintext exists once, in the
// issuance response.
type EphemeralKey struct {
	ID         string            `gorm:"column:id;primaryKey" json:"id"`
	KeyHash    string            `gorm:"column:key_hash;uniqueIndex;not null" json:"-"`
	Prefix     string            `gorm:"column:prefix;not null" json:"prefix"`
	Name       string            `gorm:"column:name" json:"name,omitempty"`
	Scopes     pq.StringArray    `gorm:"column:scopes;type:text[];not null" json:"scopes"`
	UserID     *string           `gorm:"column:user_id;index" json:"user_id,omitempty"`
	ExpiresAt  time.Time         `gorm:"column:expires_at;not null" json:"expires_at"`
	LastUsedAt *time.Time        `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	UsageCount int64             `gorm:"column:usage_count;not null;default:0" json:"usage_count"`
	MaxUsage   *int64            `gorm:"column:max_usage" json:"max_usage,omitempty"`
	RevokedAt  *time.Time        `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (EphemeralKey) TableName() string {
	return "ephemeral_keys"
}

func (k *EphemeralKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

func (k *EphemeralKey) IsExpired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

func (k *EphemeralKey) IsExhausted() bool {
	return k.MaxUsage != nil && k.UsageCount >= *k.MaxUsage
}

// ScopeSet converts the persisted scope column back to the typed set.
func (k *EphemeralKey) ScopeSet() ScopeSet {
	set := make(ScopeSet, 0, len(k.Scopes))
	for _, s := range k.Scopes {
		set = append(set, Scope(s))
	}
	return set
}
