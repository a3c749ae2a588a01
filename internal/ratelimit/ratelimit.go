/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ratelimit enforces per-API-key token buckets plus a shared default
// bucket for unauthenticated traffic. Buckets refill at the configured
// requests-per-second with burst equal to the rate.
package ratelimit

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limiter tracks one bucket per API key.
type Limiter struct {
	mu         sync.RWMutex
	defaultRPS int
	byKey      map[uuid.UUID]*rate.Limiter
	defaultBkt *rate.Limiter
}

// New builds a limiter whose buckets refill at defaultRPS unless a key
// carries a custom rate.
func New(defaultRPS int) *Limiter {
	return &Limiter{
		defaultRPS: defaultRPS,
		byKey:      make(map[uuid.UUID]*rate.Limiter),
		defaultBkt: rate.NewLimiter(rate.Limit(defaultRPS), defaultRPS),
	}
}

// CheckDefault draws one token from the shared bucket.
func (l *Limiter) CheckDefault() bool {
	return l.defaultBkt.Allow()
}

// CheckAPIKey draws one token from the key's bucket, creating the bucket on
// first use. customRPS, when set on the key, overrides the default rate.
func (l *Limiter) CheckAPIKey(keyID uuid.UUID, customRPS *int) bool {
	l.mu.RLock()
	bkt, ok := l.byKey[keyID]
	l.mu.RUnlock()
	if ok {
		return bkt.Allow()
	}

	rps := l.defaultRPS
	if customRPS != nil && *customRPS > 0 {
		rps = *customRPS
	}

	l.mu.Lock()
	// Re-check: another request may have created the bucket meanwhile.
	if bkt, ok = l.byKey[keyID]; !ok {
		bkt = rate.NewLimiter(rate.Limit(rps), rps)
		l.byKey[keyID] = bkt
	}
	l.mu.Unlock()
	return bkt.Allow()
}

// RemoveAPIKey drops the key's bucket. Called on key revocation so a
// recreated key starts with a full bucket.
func (l *Limiter) RemoveAPIKey(keyID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byKey, keyID)
}

// ClearAll drops every tracked bucket.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byKey = make(map[uuid.UUID]*rate.Limiter)
}

// TrackedKeysCount returns how many per-key buckets exist.
func (l *Limiter) TrackedKeysCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byKey)
}
