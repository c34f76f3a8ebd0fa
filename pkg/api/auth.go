package api

import (
	"sync"

	"github.com/google/uuid"
)

// tokenIssuer hands out bearer tokens for an app manifest and remembers
// which app each outstanding token belongs to (spec §6 "POST auth ... All
// other endpoints require Authorization: Bearer <token>"). Scoped to a
// single node process, mirroring the teacher's in-memory ConnectionManager
// registries rather than a persisted session store — tokens don't survive
// a restart, matching the client contract of re-authenticating on 401.
type tokenIssuer struct {
	mu     sync.RWMutex
	tokens map[string]AppManifest
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{tokens: make(map[string]AppManifest)}
}

// issue mints a fresh token for manifest and records its owner.
func (t *tokenIssuer) issue(manifest AppManifest) string {
	token := uuid.New().String()
	t.mu.Lock()
	t.tokens[token] = manifest
	t.mu.Unlock()
	return token
}

// appFor resolves a bearer token to the app manifest it was issued for, or
// ok=false if unknown (caller responds 401).
func (t *tokenIssuer) appFor(token string) (AppManifest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.tokens[token]
	return m, ok
}
