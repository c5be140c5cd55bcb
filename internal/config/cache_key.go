package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the cache key holding the active session JTI for a user.
func (r *CacheKeyStruct) SessionKey(login string) string {
	return fmt.Sprintf("session:%s", login)
}

// DraftKey returns the cache key for a user's draft record for one
// repository URL. The URL is free-form and goes last so the prefix stays
// scannable per user.
func (r *CacheKeyStruct) DraftKey(login, repoURL string) string {
	return fmt.Sprintf("draft:%s:%s", login, repoURL)
}

var CacheKey = NewCacheKeyStruct()
