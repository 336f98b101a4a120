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

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	PartnerID string
	Score     float64
	Tier      string
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheWithClient(client, time.Minute), mr
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	in := snapshot{PartnerID: "p1", Score: 91.5, Tier: "TOP"}
	require.NoError(t, c.Set(ctx, "score:p1", in, 10*time.Minute))

	var out snapshot
	require.NoError(t, c.Get(ctx, "score:p1", &out))
	assert.Equal(t, in, out)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var out snapshot
	err := c.Get(context.Background(), "score:nobody", &out)
	assert.ErrorIs(t, err, ErrMiss)
	assert.Empty(t, out.PartnerID)
}

func TestSharedRedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := NewCacheWithClient(clientA, time.Minute)
	b := NewCacheWithClient(clientB, time.Minute)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "score:p2", snapshot{PartnerID: "p2", Score: 70}, time.Hour))

	var out snapshot
	require.NoError(t, b.Get(ctx, "score:p2", &out))
	assert.Equal(t, 70.0, out.Score)
}

func TestDelete(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "score:p3", snapshot{PartnerID: "p3"}, time.Hour))
	assert.True(t, mr.Exists("score:p3"))

	require.NoError(t, c.Delete(ctx, "score:p3"))
	assert.False(t, mr.Exists("score:p3"))

	var out snapshot
	assert.ErrorIs(t, c.Get(ctx, "score:p3", &out), ErrMiss)

	assert.NoError(t, c.Delete(ctx, "score:missing"))
}
