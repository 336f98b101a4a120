/*
Copyright 2024 Blnk Finance Authors.

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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriphiel-hr/leadflow/model"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another holder owns the lease.
var ErrLeaseHeld = errors.New("lease is held by another holder")

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Lease is a single-holder redis key with an expiry. The scheduler takes one per sweep
// kind so overlapping replicas skip a run instead of doing it twice.
type Lease struct {
	client redis.UniversalClient
	key    string
	holder string
}

// NewLease creates a lease on key owned by holder. An empty holder gets a random id.
func NewLease(client redis.UniversalClient, key, holder string) *Lease {
	if holder == "" {
		holder = model.GenerateUUIDWithSuffix("holder")
	}
	return &Lease{client: client, key: key, holder: holder}
}

func (l *Lease) Key() string {
	return l.key
}

// Acquire takes the lease for ttl, failing with ErrLeaseHeld if someone else has it.
func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.holder, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseHeld, l.key)
	}
	return nil
}

// Release drops the lease if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.holder).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("release of %s failed: lease expired or owned by another holder", l.key)
	}
	return nil
}

// Extend pushes the expiry of a lease this holder owns.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.holder, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("extension of %s failed: lease expired or owned by another holder", l.key)
	}
	return nil
}

// Wait retries Acquire until it succeeds, wait elapses or ctx is done.
func (l *Lease) Wait(ctx context.Context, ttl, wait time.Duration) error {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	retry := time.NewTicker(50 * time.Millisecond)
	defer retry.Stop()

	for {
		err := l.Acquire(ctx, ttl)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLeaseHeld) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: gave up on %s after %s", ErrLeaseHeld, l.key, wait)
		case <-retry.C:
		}
	}
}

// Run executes fn while holding the lease and releases it afterwards. It returns
// ErrLeaseHeld without calling fn when the lease is taken.
func (l *Lease) Run(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx, ttl); err != nil {
		return err
	}
	defer func() {
		// an expired lease has nothing left to release
		_ = l.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
