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

package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncCounterConcurrentSafe(t *testing.T) {
	ResetCounters()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncCounter("events.idempotent_reuse", 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), GetCounter("events.idempotent_reuse"))
}

func TestObserveHistogramSyntheticCounters(t *testing.T) {
	ResetCounters()
	ObserveHistogram("locks.wait_ms", 120, 10, 100, 500)
	assert.Equal(t, int64(1), GetCounter("histo.locks.wait_ms.count"))
	assert.Equal(t, int64(120), GetCounter("histo.locks.wait_ms.sum"))
	assert.Equal(t, int64(1), GetCounter("histo.locks.wait_ms.gt_10"))
	assert.Equal(t, int64(1), GetCounter("histo.locks.wait_ms.gt_100"))
	assert.Equal(t, int64(0), GetCounter("histo.locks.wait_ms.gt_500"))
}

func TestMissingCounterReadsZero(t *testing.T) {
	ResetCounters()
	assert.Equal(t, int64(0), GetCounter("nonexistent"))
}
