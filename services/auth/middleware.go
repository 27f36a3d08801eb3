package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"voiceplane/pkg/errutil"
	"voiceplane/services/ephemeralkey"
)

const principalContextKey = "auth.principal"

// PrincipalFromContext returns the principal placed by one of the Require
// middlewares, or nil on unauthenticated routes.
func PrincipalFromContext(c *gin.Context) *Principal {
	v, ok := c.Get(principalContextKey)
	if !ok {
		return nil
	}
	principal, _ := v.(*Principal)
	return principal
}

// RequireSession admits session-authenticated callers only. Ephemeral keys
// are not accepted; key management stays behind the interactive session.
func (r *Resolver) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := r.ResolveSession(c.Request.Context(), c.Request.Header)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		if principal == nil {
			abortUnauthorized(c, nil)
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// RequireAny admits either credential type.
func (r *Resolver) RequireAny() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := r.ResolveAny(c.Request.Context(), c.Request.Header)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		if principal == nil {
			abortUnauthorized(c, nil)
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// RequireScope guards a route with a scope check on top of RequireAny.
func (r *Resolver) RequireScope(scope ephemeralkey.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFromContext(c)
		if principal == nil {
			abortUnauthorized(c, nil)
			return
		}
		if !principal.Allows(scope) {
			c.Error(errutil.Forbidden("missing scope: " + string(scope)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// abortUnauthorized responds with a uniform 401 so callers cannot
// distinguish a missing credential from a rejected one. Non-auth failures
// (the key store being down) pass through with their own status.
func abortUnauthorized(c *gin.Context, err error) {
	var base errutil.BaseError
	if err != nil && errors.As(err, &base) && base.Code != errutil.StatusUnauthorized {
		c.Error(err)
		c.Abort()
		return
	}
	if err != nil {
		zap.L().Debug("authentication rejected", zap.Error(err))
	}
	c.Error(errutil.Unauthorized("authentication required"))
	c.Abort()
}
