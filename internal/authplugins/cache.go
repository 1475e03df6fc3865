// Package authplugins implements the Auth Plugins component (C11): IAM
// token, Secrets Manager, and federated/SAML credential acquisition, each
// wrapping the chain's connect operation the same way (spec §4.8). The
// shared shape is "check cache, fall back to the external provider, retry
// once on a login error with the cached value invalidated" — adapted from
// the teacher's internal/cache package, which applies the identical
// check-then-fetch-then-cache idiom to session lookups instead of
// credentials.
package authplugins

import (
	"sync"
	"time"
)

// tokenKey is the IAM/federated token cache key (spec §3: "(region, host,
// port, user) -> (token, expires-at)").
type tokenKey struct {
	Region string
	Host   string
	Port   int
	User   string
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// TokenCache is the process-wide IAM token cache (spec §3). A token past its
// expiry is treated as absent regardless of whether it's still present in
// the map; no jitter is applied to that comparison (spec §4.8: "no jitter").
type TokenCache struct {
	mu      sync.RWMutex
	entries map[tokenKey]tokenEntry
}

func NewTokenCache() *TokenCache {
	return &TokenCache{entries: make(map[tokenKey]tokenEntry)}
}

// Get returns the cached token for (region, host, port, user) if present and
// unexpired as of now.
func (c *TokenCache) Get(region, host string, port int, user string, now time.Time) (string, bool) {
	key := tokenKey{Region: region, Host: host, Port: port, User: user}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return "", false
	}
	return e.token, true
}

func (c *TokenCache) Put(region, host string, port int, user, token string, expiresAt time.Time) {
	key := tokenKey{Region: region, Host: host, Port: port, User: user}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = tokenEntry{token: token, expiresAt: expiresAt}
}

// Invalidate drops the cached token for a key, forcing the next Get to miss
// (spec §4.8: "on login error with a cached token, invalidate, regenerate").
func (c *TokenCache) Invalidate(region, host string, port int, user string) {
	key := tokenKey{Region: region, Host: host, Port: port, User: user}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of cached tokens, for diagnostics/tests.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// secretKey is the Secrets Manager cache key (spec §3: "(secretId, region)").
type secretKey struct {
	SecretID string
	Region   string
}

// Secret is the username/password pair a Secrets Manager lookup resolves to.
type Secret struct {
	Username string
	Password string
}

// SecretsCache is the process-wide Secrets Manager cache (spec §3): no
// implicit TTL, only invalidated by an authentication failure against the
// cached value.
type SecretsCache struct {
	mu      sync.RWMutex
	entries map[secretKey]Secret
}

func NewSecretsCache() *SecretsCache {
	return &SecretsCache{entries: make(map[secretKey]Secret)}
}

func (c *SecretsCache) Get(secretID, region string) (Secret, bool) {
	key := secretKey{SecretID: secretID, Region: region}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok
}

func (c *SecretsCache) Put(secretID, region string, s Secret) {
	key := secretKey{SecretID: secretID, Region: region}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = s
}

func (c *SecretsCache) Invalidate(secretID, region string) {
	key := secretKey{SecretID: secretID, Region: region}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *SecretsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
