package rediskey

import "fmt"

// Key namespaces (global convention across services)
const (
	RateLimitPrefix = "ratelimit"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildKeyCreateLimitKey returns "ratelimit:keys:{userID}"
func BuildKeyCreateLimitKey(userID string) string {
	return NamespaceKey(RateLimitPrefix, "keys:"+userID)
}
