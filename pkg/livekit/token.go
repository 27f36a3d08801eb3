package livekit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant mirrors the LiveKit access-token video grant. Only the fields
// this service issues are modeled.
type VideoGrant struct {
	Room         string `json:"room,omitempty"`
	RoomJoin     bool   `json:"roomJoin,omitempty"`
	CanSubscribe bool   `json:"canSubscribe,omitempty"`
	CanPublish   bool   `json:"canPublish,omitempty"`
}

// TokenBuilder mints LiveKit access tokens signed with the project API
// secret (HS256, issuer = API key), the format the media server verifies.
type TokenBuilder struct {
	apiKey    string
	apiSecret string
}

func NewTokenBuilder(apiKey, apiSecret string) *TokenBuilder {
	return &TokenBuilder{apiKey: apiKey, apiSecret: apiSecret}
}

// JoinToken builds a room-scoped join token. Metadata is attached to the
// participant and is visible to every agent in the room, so callers must
// never place secrets in it.
func (b *TokenBuilder) JoinToken(identity, room string, ttl time.Duration, metadata map[string]any) (string, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return "", fmt.Errorf("livekit credentials not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  b.apiKey,
		"sub":  identity,
		"name": identity,
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"video": VideoGrant{
			Room:         room,
			RoomJoin:     true,
			CanSubscribe: true,
			CanPublish:   true,
		},
	}

	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("encode participant metadata: %w", err)
		}
		claims["metadata"] = string(raw)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(b.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}
