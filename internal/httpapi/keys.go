package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voiceplane/pkg/db/pagination"
	"voiceplane/pkg/errutil"
	"voiceplane/services/auth"
	"voiceplane/services/ephemeralkey"
)

const (
	defaultKeyTTLSeconds = 3600
	maxKeyTTLSeconds     = 86400
)

type KeyHandler struct {
	keys *ephemeralkey.Service
}

func NewKeyHandler(keys *ephemeralkey.Service) *KeyHandler {
	return &KeyHandler{keys: keys}
}

type createKeyRequest struct {
	Name       string                 `json:"name"`
	Scopes     []string               `json:"scopes"`
	TTLSeconds *int                   `json:"ttlSeconds"`
	MaxUsage   *int64                 `json:"maxUsage"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// createKeyResponse is the only place the plaintext key ever appears.
type createKeyResponse struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scopes    []string  `json:"scopes"`
}

type keyListItem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	UsageCount int64      `json:"usageCount"`
	MaxUsage   *int64     `json:"maxUsage,omitempty"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (h *KeyHandler) Create(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	ttl := defaultKeyTTLSeconds
	if req.TTLSeconds != nil {
		if *req.TTLSeconds <= 0 {
			c.Error(errutil.BadRequest("ttlSeconds must be positive"))
			return
		}
		ttl = min(*req.TTLSeconds, maxKeyTTLSeconds)
	}

	if req.MaxUsage != nil && *req.MaxUsage <= 0 {
		c.Error(errutil.BadRequest("maxUsage must be positive"))
		return
	}

	scopes, err := ephemeralkey.ParseScopes(req.Scopes)
	if err != nil {
		c.Error(err)
		return
	}

	out, err := h.keys.Generate(c.Request.Context(), ephemeralkey.GenerateInput{
		Name:       req.Name,
		Scopes:     scopes,
		UserID:     principal.UserID,
		TTLSeconds: ttl,
		MaxUsage:   req.MaxUsage,
		Metadata:   req.Metadata,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, createKeyResponse{
		ID:        out.ID,
		Key:       out.Secret,
		ExpiresAt: out.ExpiresAt,
		Scopes:    out.Scopes.Strings(),
	})
}

func (h *KeyHandler) List(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination", errutil.WithErr(err)))
		return
	}

	keys, err := h.keys.List(c.Request.Context(), principal.UserID, page)
	if err != nil {
		c.Error(err)
		return
	}

	items := make([]keyListItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, keyListItem{
			ID:         k.ID,
			Name:       k.Name,
			Scopes:     k.ScopeSet().Strings(),
			ExpiresAt:  k.ExpiresAt,
			LastUsedAt: k.LastUsedAt,
			UsageCount: k.UsageCount,
			MaxUsage:   k.MaxUsage,
			Revoked:    k.IsRevoked(),
			CreatedAt:  k.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, items)
}

func (h *KeyHandler) Revoke(c *gin.Context) {
	principal := auth.PrincipalFromContext(c)
	id := c.Param("id")

	key, err := h.keys.GetByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if key == nil {
		c.Error(errutil.NotFound("key not found"))
		return
	}
	if key.UserID == nil || *key.UserID != principal.UserID {
		c.Error(errutil.Forbidden("not the key owner"))
		return
	}
	if key.IsRevoked() {
		c.Error(errutil.BadRequest("key already revoked"))
		return
	}

	ok, err := h.keys.Revoke(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		// Lost a race with another revocation.
		c.Error(errutil.BadRequest("key already revoked"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "key revoked"})
}
