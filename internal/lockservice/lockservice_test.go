// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lockservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithEncounterLockInProcessSerializesConcurrentCallers(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()

	var mu sync.Mutex
	active := 0
	maxActive := 0
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.WithEncounterLock(ctx, 42, time.Second, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestWithEncounterLockDifferentEncountersRunConcurrently(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := int64(0); i < 5; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = svc.WithEncounterLock(ctx, id, time.Second, func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWithEncounterLockReleasesOnError(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()

	boom := assert.AnError
	err := svc.WithEncounterLock(ctx, 1, time.Second, func(ctx context.Context) error {
		return boom
	})
	assert.Equal(t, boom, err)

	// Lock must be released: a second call must not deadlock.
	done := make(chan struct{})
	go func() {
		_ = svc.WithEncounterLock(ctx, 1, time.Second, func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after fn returned an error")
	}
}
