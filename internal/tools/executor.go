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

package tools

import (
	"context"
	"fmt"
	"time"

	"ledgerd/internal/ledger"
	"ledgerd/internal/ledgerstore"
	"ledgerd/internal/lockservice"
	"ledgerd/pkg/metrics"
)

// AppendResult is the outcome of applying a chain: the events actually
// committed (in order) plus the first failure encountered, if any. Earlier
// committed events are never rolled back — the ledger is append-only.
type AppendResult struct {
	Events     []ledger.Event
	FirstError error
}

// Executor previews and applies tool call chains against a ledger
// repository, serialized per scene by the encounter lock service.
type Executor struct {
	registry   *Registry
	repo       ledgerstore.Repository
	locks      *lockservice.Service
	lockWait   time.Duration
	CampaignID int64
}

// NewExecutor constructs an Executor. lockWait bounds advisory lock
// acquisition (see lockservice); it has no effect in in-process-only mode.
func NewExecutor(registry *Registry, repo ledgerstore.Repository, locks *lockservice.Service, campaignID int64, lockWait time.Duration) *Executor {
	if lockWait <= 0 {
		lockWait = 3 * time.Second
	}
	return &Executor{registry: registry, repo: repo, locks: locks, lockWait: lockWait, CampaignID: campaignID}
}

// Preview computes the chain's mechanics and predicted events with no
// persistence. Deterministic when every step supplies a seed.
func (e *Executor) Preview(ctx context.Context, chain ToolCallChain) (PreviewResult, error) {
	items := make([]PreviewItem, 0, len(chain.Steps))
	for _, step := range chain.Steps {
		spec, ok := e.registry.Get(step.Tool)
		if !ok {
			return PreviewResult{}, fmt.Errorf("tools: unknown tool %q", step.Tool)
		}
		result, err := spec.Handler(ctx, step.Args)
		if err != nil {
			return PreviewResult{}, fmt.Errorf("tools: %s: %w", step.Tool, err)
		}
		items = append(items, PreviewItem{Mechanics: result.Mechanics, PredictedEvents: result.PredictedEvents})
	}
	return PreviewResult{Items: items}, nil
}

// Apply runs the same preview computation, then appends every predicted
// event under the chain's scene lock. If a step fails, earlier events
// remain committed and the result reports the first failure. Calling
// Apply twice with the same RequestID collapses to the same committed
// events via the ledger's idempotency key.
func (e *Executor) Apply(ctx context.Context, chain ToolCallChain) (AppendResult, error) {
	preview, err := e.Preview(ctx, chain)
	if err != nil {
		return AppendResult{}, err
	}

	var result AppendResult
	runApply := func(ctx context.Context) error {
		var sceneID *int64
		if chain.SceneID != 0 {
			sceneID = &chain.SceneID
		}
		var actorID *string
		if chain.ActorID != "" {
			actorID = &chain.ActorID
		}

		for _, item := range preview.Items {
			for _, predicted := range item.PredictedEvents {
				event, err := e.repo.AppendEvent(ctx, ledgerstore.AppendParams{
					CampaignID:         e.CampaignID,
					SceneID:            sceneID,
					EventType:          predicted.EventType,
					Payload:            predicted.Payload,
					ActorID:            actorID,
					ExecutionRequestID: chain.RequestID,
				})
				if err != nil {
					result.FirstError = err
					return err
				}
				result.Events = append(result.Events, event)
			}
		}
		return nil
	}

	if e.locks != nil {
		err = e.locks.WithEncounterLock(ctx, chain.SceneID, e.lockWait, runApply)
	} else {
		err = runApply(ctx)
	}

	if len(result.Events) > 0 {
		metrics.IncCounter("executor.chain.events_appended", int64(len(result.Events)))
	}
	return result, err
}
