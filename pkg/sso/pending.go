package sso

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// PendingLogin holds the secrets generated when a flow is initiated,
// awaiting the provider callback. Owned exclusively by the PendingCache.
type PendingLogin struct {
	// Verifier is the PKCE code verifier for the code exchange
	Verifier string
	// Nonce is bound into the ID token and checked on verification
	Nonce string
	// State is the anti-forgery token the callback must echo back
	State string
	// ReturnTo is the optional post-login redirect target
	ReturnTo string
	// CreatedAt marks flow initiation
	CreatedAt time.Time
}

// PendingCache is a time- and capacity-bounded store of flows awaiting
// their provider callback, keyed by opaque flow ID. Entries are read-once:
// Take removes what it returns, so no two callbacks ever observe the same
// secrets. When full, the oldest entry is evicted; expired entries behave
// as absent.
type PendingCache struct {
	// mu makes Take's get-then-remove atomic; the LRU's own lock only
	// covers individual operations
	mu    sync.Mutex
	cache *lru.LRU[string, *PendingLogin]
}

// NewPendingCache creates a pending-flow cache holding at most capacity
// entries, each living for ttl
func NewPendingCache(capacity int, ttl time.Duration) *PendingCache {
	return &PendingCache{
		cache: lru.NewLRU[string, *PendingLogin](capacity, nil, ttl),
	}
}

// Put stores a pending flow, overwriting any prior entry under the same
// flow ID and restarting its TTL
func (c *PendingCache) Put(flowID string, login *PendingLogin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(flowID)
	c.cache.Add(flowID, login)
}

// Take atomically retrieves and removes the pending flow for flowID.
// Returns false when the flow is unknown, expired, or already consumed.
func (c *PendingCache) Take(flowID string) (*PendingLogin, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	login, ok := c.cache.Get(flowID)
	if !ok {
		return nil, false
	}
	c.cache.Remove(flowID)
	return login, true
}

// Len returns the number of live pending flows
func (c *PendingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
