package auth

import (
	"context"
	"net/http"
	"strings"

	"voiceplane/pkg/errutil"
	"voiceplane/services/ephemeralkey"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// PrincipalSession marks a caller authenticated by a session token.
	PrincipalSession = "session"
	// PrincipalEphemeral marks a caller authenticated by an ephemeral key.
	PrincipalEphemeral = "ephemeral"

	ephemeralKeyHeader = "X-Ephemeral-Key"
)

// Principal is the resolved identity of a request, whichever credential
// produced it.
type Principal struct {
	Type      string
	UserID    string
	SessionID string
	KeyID     string
	Scopes    ephemeralkey.ScopeSet
}

// Allows reports whether the principal may perform an operation guarded by
// the given scope. Session principals are full-trust; ephemeral principals
// are limited to the scopes minted into their key.
func (p *Principal) Allows(scope ephemeralkey.Scope) bool {
	if p.Type == PrincipalSession {
		return true
	}
	return p.Scopes.Allows(scope)
}

// Resolver authenticates requests against both credential types: session
// tokens from the auth engine and ephemeral keys issued by this service.
type Resolver struct {
	sessions SessionProvider
	keys     *ephemeralkey.Service
}

type ResolverParams struct {
	fx.In
	Sessions SessionProvider
	Keys     *ephemeralkey.Service
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		sessions: p.Sessions,
		keys:     p.Keys,
	}
}

// ResolveSession authenticates by session token only. Returns (nil, nil)
// when no session credential is present.
func (r *Resolver) ResolveSession(ctx context.Context, header http.Header) (*Principal, error) {
	session, err := r.sessions.GetSession(ctx, header)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	return &Principal{
		Type:      PrincipalSession,
		UserID:    session.UserID,
		SessionID: session.SessionID,
	}, nil
}

// ResolveEphemeral authenticates by ephemeral key only. The secret is
// accepted from the X-Ephemeral-Key header or as a Bearer token. Returns
// (nil, nil) when no key is presented.
func (r *Resolver) ResolveEphemeral(ctx context.Context, header http.Header) (*Principal, error) {
	secret := keyFromHeader(header)
	if secret == "" {
		return nil, nil
	}

	v, err := r.keys.Validate(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		zap.L().Debug("ephemeral key rejected", zap.String("reason", v.Reason))
		return nil, errutil.Unauthorized("invalid ephemeral key")
	}

	p := &Principal{
		Type:   PrincipalEphemeral,
		KeyID:  v.Key.ID,
		Scopes: v.Key.ScopeSet(),
	}
	if v.Key.UserID != nil {
		p.UserID = *v.Key.UserID
	}
	return p, nil
}

// ResolveAny tries the session credential first, then the ephemeral key.
// Returns (nil, nil) when the request carries neither.
func (r *Resolver) ResolveAny(ctx context.Context, header http.Header) (*Principal, error) {
	principal, err := r.ResolveSession(ctx, header)
	if err != nil || principal != nil {
		return principal, err
	}
	return r.ResolveEphemeral(ctx, header)
}

func keyFromHeader(header http.Header) string {
	if v := header.Get(ephemeralKeyHeader); v != "" {
		return strings.TrimSpace(v)
	}
	if authz := header.Get("Authorization"); authz != "" {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if ok && isEphemeralSecret(token) {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

func isEphemeralSecret(token string) bool {
	return strings.HasPrefix(strings.TrimSpace(token), ephemeralkey.SecretPrefix)
}
