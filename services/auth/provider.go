package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"voiceplane/pkg/config"
	"voiceplane/pkg/errutil"

	"github.com/go-jose/go-jose/v4"
)

// Session is the identity carried by a verified session token. Session
// tokens are minted by the external auth engine; this service only
// verifies them.
type Session struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// SessionProvider verifies the session credential in an incoming request,
// whatever its carrier. Returns (nil, nil) when no session credential is
// present, and an error only when one is present but invalid.
type SessionProvider interface {
	GetSession(ctx context.Context, header http.Header) (*Session, error)
}

type sessionClaims struct {
	Subject   string `json:"sub"`
	SessionID string `json:"sid"`
	ExpiresAt int64  `json:"exp"`
}

// JWSProvider verifies compact HS256 JWS session tokens against the shared
// session secret. Tokens are read from the Authorization header or, for
// browser clients, the session cookie.
type JWSProvider struct {
	secret     []byte
	cookieName string
}

func NewJWSProvider(cfg *config.Config) SessionProvider {
	return &JWSProvider{
		secret:     []byte(cfg.Session.Secret),
		cookieName: cfg.Session.CookieName,
	}
}

func (p *JWSProvider) GetSession(ctx context.Context, header http.Header) (*Session, error) {
	raw := p.tokenFromHeader(header)
	if raw == "" {
		return nil, nil
	}

	sig, err := jose.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, errutil.Unauthorized("malformed session token", errutil.WithErr(err))
	}

	payload, err := sig.Verify(p.secret)
	if err != nil {
		return nil, errutil.Unauthorized("invalid session token", errutil.WithErr(err))
	}

	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errutil.Unauthorized("malformed session claims", errutil.WithErr(err))
	}

	if claims.Subject == "" {
		return nil, errutil.Unauthorized("session token missing subject")
	}
	if claims.ExpiresAt > 0 && time.Now().Unix() >= claims.ExpiresAt {
		return nil, errutil.Unauthorized("session expired")
	}

	return &Session{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		ExpiresAt: time.Unix(claims.ExpiresAt, 0),
	}, nil
}

// tokenFromHeader extracts a session token from the Authorization header
// or the session cookie. Bearer values carrying an ephemeral key secret
// are not session tokens and are left for the key path to resolve.
func (p *JWSProvider) tokenFromHeader(header http.Header) string {
	if authz := header.Get("Authorization"); authz != "" {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if ok && !isEphemeralSecret(token) {
			return strings.TrimSpace(token)
		}
	}

	req := http.Request{Header: header}
	if cookie, err := req.Cookie(p.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}
