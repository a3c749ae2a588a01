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

// Package redispool maintains one go-redis client per provisioned instance,
// keyed by instance id. Connections are established lazily on first proxy
// request and verified with PING before being admitted to the pool.
package redispool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoConnection is returned when no pooled client exists for an instance.
var ErrNoConnection = errors.New("No connection found for instance")

// connectAttempts is how many times Connect dials before giving up.
const connectAttempts = 3

// connectRetryDelay separates consecutive dial attempts.
const connectRetryDelay = time.Second

// Pool is a concurrency-safe instance_id -> client map. dialMu serializes
// GetOrConnect dials so concurrent misses for the same pool produce one
// connection instead of racing put() against clients already handed out.
type Pool struct {
	mu      sync.RWMutex
	dialMu  sync.Mutex
	clients map[uuid.UUID]*redis.Client
	log     logr.Logger
}

// New builds an empty pool.
func New(log logr.Logger) *Pool {
	return &Pool{
		clients: make(map[uuid.UUID]*redis.Client),
		log:     log,
	}
}

// Connect establishes a verified client for the instance, replacing any
// existing one. Each attempt dials and PINGs; after a failed attempt short of
// the last, it sleeps for the retry delay.
func (p *Pool) Connect(ctx context.Context, instanceID uuid.UUID, addr, password string) error {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		})

		pong, err := client.Ping(ctx).Result()
		if err != nil {
			lastErr = fmt.Errorf("Connection failed: %s", err)
			client.Close()
		} else if pong != "PONG" {
			lastErr = fmt.Errorf("PING failed: unexpected reply %q", pong)
			client.Close()
		} else {
			p.put(instanceID, client)
			p.log.Info("connected to redis instance",
				"instance", instanceID, "addr", addr, "attempt", attempt)
			return nil
		}

		if attempt < connectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(connectRetryDelay):
			}
		}
	}
	return fmt.Errorf("Failed to connect after %d attempts. Last error: %s", connectAttempts, lastErr)
}

func (p *Pool) put(instanceID uuid.UUID, client *redis.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.clients[instanceID]; ok {
		old.Close()
	}
	p.clients[instanceID] = client
}

// GetClient returns the pooled client for the instance.
func (p *Pool) GetClient(instanceID uuid.UUID) (*redis.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	client, ok := p.clients[instanceID]
	if !ok {
		return nil, ErrNoConnection
	}
	return client, nil
}

// GetOrConnect returns the pooled client, dialing first if absent. Dials run
// under dialMu with a re-check after acquiring it, so concurrent misses for
// the same instance share one dial and one client.
func (p *Pool) GetOrConnect(ctx context.Context, instanceID uuid.UUID, addr, password string) (*redis.Client, error) {
	if client, err := p.GetClient(instanceID); err == nil {
		return client, nil
	}

	p.dialMu.Lock()
	defer p.dialMu.Unlock()
	if client, err := p.GetClient(instanceID); err == nil {
		return client, nil
	}
	if err := p.Connect(ctx, instanceID, addr, password); err != nil {
		return nil, err
	}
	return p.GetClient(instanceID)
}

// HealthCheck pings the instance's pooled client.
func (p *Pool) HealthCheck(ctx context.Context, instanceID uuid.UUID) error {
	client, err := p.GetClient(instanceID)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// RemoveInstance closes and drops the instance's client. Removing an unknown
// instance is a no-op.
func (p *Pool) RemoveInstance(instanceID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[instanceID]; ok {
		client.Close()
		delete(p.clients, instanceID)
		p.log.Info("removed redis connection", "instance", instanceID)
	}
}

// ReconnectInstance drops any existing client and dials fresh.
func (p *Pool) ReconnectInstance(ctx context.Context, instanceID uuid.UUID, addr, password string) error {
	p.RemoveInstance(instanceID)
	return p.Connect(ctx, instanceID, addr, password)
}

// ConnectionCount returns how many clients are pooled.
func (p *Pool) ConnectionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// HasInstance reports whether a client is pooled for the instance.
func (p *Pool) HasInstance(instanceID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.clients[instanceID]
	return ok
}

// Close shuts down every pooled client.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, client := range p.clients {
		client.Close()
		delete(p.clients, id)
	}
}
