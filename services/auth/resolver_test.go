package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voiceplane/pkg/config"
	"voiceplane/pkg/errutil"
	"voiceplane/services/ephemeralkey"
	"voiceplane/services/testutil"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestResolver(t *testing.T) (*Resolver, *ephemeralkey.Service) {
	t.Helper()

	db := testutil.NewTestDB(t, &ephemeralkey.EphemeralKey{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	keys := ephemeralkey.NewService(ephemeralkey.ServiceParams{DB: db, Node: node})

	cfg := &config.Config{}
	cfg.Session.Secret = testSessionSecret
	cfg.Session.CookieName = "session"

	resolver := NewResolver(ResolverParams{
		Sessions: NewJWSProvider(cfg),
		Keys:     keys,
	})
	return resolver, keys
}

// signSession mints a compact HS256 JWS the way the external auth engine
// does, signed with the shared session secret.
func signSession(t *testing.T, userID, sessionID string, expiresAt time.Time) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte(testSessionSecret),
	}, nil)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"sub": userID,
		"sid": sessionID,
		"exp": expiresAt.Unix(),
	})
	require.NoError(t, err)

	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	token, err := sig.CompactSerialize()
	require.NoError(t, err)
	return token
}

func TestResolveSessionFromBearer(t *testing.T) {
	resolver, _ := newTestResolver(t)

	token := signSession(t, "user-1", "sess-1", time.Now().Add(time.Hour))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	p, err := resolver.ResolveSession(context.Background(), header)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, PrincipalSession, p.Type)
	require.Equal(t, "user-1", p.UserID)
	require.Equal(t, "sess-1", p.SessionID)
}

func TestResolveSessionFromCookie(t *testing.T) {
	resolver, _ := newTestResolver(t)

	token := signSession(t, "user-2", "sess-2", time.Now().Add(time.Hour))
	header := http.Header{}
	header.Set("Cookie", "session="+token)

	p, err := resolver.ResolveSession(context.Background(), header)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "user-2", p.UserID)
}

func TestResolveSessionExpired(t *testing.T) {
	resolver, _ := newTestResolver(t)

	token := signSession(t, "user-1", "sess-1", time.Now().Add(-time.Minute))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	_, err := resolver.ResolveSession(context.Background(), header)
	require.Error(t, err)

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusUnauthorized, base.Code)
}

func TestResolveSessionTamperedSignature(t *testing.T) {
	resolver, _ := newTestResolver(t)

	token := signSession(t, "user-1", "sess-1", time.Now().Add(time.Hour))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token+"x")

	_, err := resolver.ResolveSession(context.Background(), header)
	require.Error(t, err)
}

func TestResolveSessionAbsent(t *testing.T) {
	resolver, _ := newTestResolver(t)

	p, err := resolver.ResolveSession(context.Background(), http.Header{})
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestResolveEphemeralFromHeader(t *testing.T) {
	resolver, keys := newTestResolver(t)

	out, err := keys.Generate(context.Background(), ephemeralkey.GenerateInput{
		UserID:     "user-1",
		Scopes:     ephemeralkey.ScopeSet{ephemeralkey.ScopeVoiceConnect},
		TTLSeconds: 3600,
	})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("X-Ephemeral-Key", out.Secret)

	p, err := resolver.ResolveEphemeral(context.Background(), header)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, PrincipalEphemeral, p.Type)
	require.Equal(t, "user-1", p.UserID)
	require.Equal(t, out.ID, p.KeyID)
	require.True(t, p.Allows(ephemeralkey.ScopeVoiceConnect))
	require.False(t, p.Allows(ephemeralkey.ScopeMemoryWrite))
}

func TestResolveEphemeralFromBearer(t *testing.T) {
	resolver, keys := newTestResolver(t)

	out, err := keys.Generate(context.Background(), ephemeralkey.GenerateInput{
		UserID:     "user-1",
		TTLSeconds: 3600,
	})
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+out.Secret)

	p, err := resolver.ResolveAny(context.Background(), header)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, PrincipalEphemeral, p.Type)
}

func TestResolveEphemeralRejectsUnknownKey(t *testing.T) {
	resolver, _ := newTestResolver(t)

	header := http.Header{}
	header.Set("X-Ephemeral-Key", ephemeralkey.SecretPrefix+"bogus")

	_, err := resolver.ResolveEphemeral(context.Background(), header)
	require.Error(t, err)

	var base errutil.BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, errutil.StatusUnauthorized, base.Code)
}

func TestResolveEphemeralRejectsRevokedKey(t *testing.T) {
	resolver, keys := newTestResolver(t)

	out, err := keys.Generate(context.Background(), ephemeralkey.GenerateInput{
		UserID:     "user-1",
		TTLSeconds: 3600,
	})
	require.NoError(t, err)

	ok, err := keys.Revoke(context.Background(), out.ID)
	require.NoError(t, err)
	require.True(t, ok)

	header := http.Header{}
	header.Set("X-Ephemeral-Key", out.Secret)

	_, err = resolver.ResolveEphemeral(context.Background(), header)
	require.Error(t, err)
}

func TestResolveAnyPrefersSession(t *testing.T) {
	resolver, keys := newTestResolver(t)

	out, err := keys.Generate(context.Background(), ephemeralkey.GenerateInput{
		UserID:     "key-owner",
		TTLSeconds: 3600,
	})
	require.NoError(t, err)

	token := signSession(t, "session-user", "sess-1", time.Now().Add(time.Hour))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Ephemeral-Key", out.Secret)

	p, err := resolver.ResolveAny(context.Background(), header)
	require.NoError(t, err)
	require.Equal(t, PrincipalSession, p.Type)
	require.Equal(t, "session-user", p.UserID)
}

func TestResolveAnyWithNoCredentials(t *testing.T) {
	resolver, _ := newTestResolver(t)

	p, err := resolver.ResolveAny(context.Background(), http.Header{})
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestPrincipalScopeSemantics(t *testing.T) {
	session := &Principal{Type: PrincipalSession, UserID: "u"}
	require.True(t, session.Allows(ephemeralkey.ScopeMemoryWrite))

	wildcard := &Principal{
		Type:   PrincipalEphemeral,
		Scopes: ephemeralkey.ScopeSet{ephemeralkey.ScopeWildcard},
	}
	require.True(t, wildcard.Allows(ephemeralkey.ScopeAssistantQuery))

	scopeless := &Principal{Type: PrincipalEphemeral}
	require.False(t, scopeless.Allows(ephemeralkey.ScopeVoiceConnect))
}
