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

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ledgerd/internal/tools"
	"ledgerd/pkg/metrics"
)

const cacheTTL = 30 * time.Second
const transcriptLimit = 15

// unsafeVerbs lists phrasing that would mutate state outside the
// proposal's declared action verb; the narration or reason containing one
// of these triggers the unsafe_verb defense.
var unsafeVerbs = []string{
	"set hp to", "delete character", "grant xp", "give item", "kill instantly",
}

// actionToTool maps a proposal's action to the registered tool that
// realizes it.
var actionToTool = map[string]string{
	"ability_check":    "check",
	"attack":           "attack",
	"apply_condition":  "apply_condition",
	"remove_condition": "clear_condition",
	"clear_condition":  "clear_condition",
}

// ExistingActors answers whether a named actor exists as a character,
// independent of the allowed_actors list.
type ExistingActors interface {
	ActorExists(name string) bool
}

// Orchestrator builds an ExecutionRequest from a player's free-text
// message by combining an LLM proposal with the tool executor's preview.
type Orchestrator struct {
	llm       LLMClient
	executor  *tools.Executor
	actors    ExistingActors
	allowed   []string

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	result   Result
	expireAt time.Time
}

// New constructs an Orchestrator. allowedActors names actors the caller
// has already vetted as addressable (e.g. party members) independent of
// whether they exist as full characters.
func New(llm LLMClient, executor *tools.Executor, actors ExistingActors, allowedActors []string) *Orchestrator {
	return &Orchestrator{
		llm: llm, executor: executor, actors: actors, allowed: allowedActors,
		cache: map[string]cacheEntry{}, now: time.Now,
	}
}

// Handle runs the full pipeline for one player message against one scene.
func (o *Orchestrator) Handle(ctx context.Context, sceneID int64, message string, fetchTranscripts TranscriptFetcher) Result {
	trimmed := strings.TrimSpace(message)
	cacheKey := fmt.Sprintf("%d:%s", sceneID, trimmed)
	if cached, ok := o.lookupCache(cacheKey); ok {
		return cached
	}

	var history []Message
	if fetchTranscripts != nil {
		if h, err := fetchTranscripts.RecentTranscripts(sceneID, transcriptLimit); err == nil {
			history = h
		}
	}

	metrics.IncCounter("llm.request.enqueued", 1)
	output, err := o.llm.GenerateJSON(append(history, Message{Role: "user", Content: trimmed}), "Respond with {proposal, narration}.")
	if err != nil {
		return o.reject("llm_unavailable")
	}
	metrics.IncCounter("llm.response.received", 1)

	if reason, ok := o.checkDefenses(output); !ok {
		metrics.IncCounter("llm.defense.rejected", 1)
		return o.reject(reason)
	}

	toolName, ok := actionToTool[output.Proposal.Action]
	if !ok {
		return o.reject("invalid_schema")
	}

	chain := tools.ToolCallChain{
		RequestID: "",
		SceneID:   sceneID,
		Steps:     []tools.ToolStep{{Tool: toolName, Args: output.Proposal.Args, Visibility: "public"}},
	}

	preview, err := o.executor.Preview(ctx, chain)
	if err != nil {
		return o.reject("invalid_schema")
	}

	mechanics := ""
	if len(preview.Items) > 0 {
		mechanics = preview.Items[0].Mechanics
	}

	execReq := ExecutionRequestFromToolChain(chain, toolName)
	chainJSON := chain

	result := Result{
		Mechanics:        mechanics,
		Narration:        output.Narration,
		ExecutionRequest: &execReq,
		ChainJSON:        &chainJSON,
	}
	metrics.IncCounter("orchestrator.format.sent", 1)

	o.storeCache(cacheKey, result)
	return result
}

func (o *Orchestrator) reject(reason string) Result {
	return Result{Rejected: true, Reason: reason}
}

func (o *Orchestrator) checkDefenses(output LLMOutput) (string, bool) {
	lowerNarration := strings.ToLower(output.Narration)
	lowerReason := strings.ToLower(output.Proposal.Reason)
	for _, verb := range unsafeVerbs {
		if strings.Contains(lowerNarration, verb) || strings.Contains(lowerReason, verb) {
			return "unsafe_verb", false
		}
	}

	for _, actor := range extractQuotedActors(output.Narration) {
		if !containsString(o.allowed, actor) && !o.actorExistsSafe(actor) {
			return "unknown_actor", false
		}
	}

	if !validActions[output.Proposal.Action] {
		return "invalid_schema", false
	}
	if output.Proposal.Args == nil {
		return "invalid_schema", false
	}

	return "", true
}

func (o *Orchestrator) actorExistsSafe(name string) bool {
	if o.actors == nil {
		return false
	}
	return o.actors.ActorExists(name)
}

// extractQuotedActors is a narrow heuristic: actor names appearing in
// narration between backticks, matching the single convention this
// orchestrator's narration template uses to name third parties.
func extractQuotedActors(narration string) []string {
	var names []string
	parts := strings.Split(narration, "`")
	for i := 1; i < len(parts); i += 2 {
		names = append(names, parts[i])
	}
	return names
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ExecutionRequestFromToolChain converts a chain into its wire-facing
// ExecutionRequest form.
func ExecutionRequestFromToolChain(chain tools.ToolCallChain, planID string) ExecutionRequest {
	steps := make([]ExecutionStep, len(chain.Steps))
	for i, s := range chain.Steps {
		steps[i] = ExecutionStep{Op: s.Tool, Args: s.Args, RequiresConfirmation: s.RequiresConfirmation, Visibility: s.Visibility}
	}
	var actorID, requestID *string
	if chain.ActorID != "" {
		actorID = &chain.ActorID
	}
	if chain.RequestID != "" {
		requestID = &chain.RequestID
	}
	return ExecutionRequest{
		PlanID:  planID,
		Context: ExecutionContext{SceneID: chain.SceneID, ActorID: actorID, RequestID: requestID},
		Steps:   steps,
	}
}

// ToolChainFromExecutionRequest is the inverse of
// ExecutionRequestFromToolChain; together they satisfy the round-trip
// property tool_chain_from_execution_request(execution_request_from_tool_chain(c, plan_id)) == c (modulo plan_id).
func ToolChainFromExecutionRequest(req ExecutionRequest) tools.ToolCallChain {
	steps := make([]tools.ToolStep, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = tools.ToolStep{Tool: s.Op, Args: s.Args, RequiresConfirmation: s.RequiresConfirmation, Visibility: s.Visibility}
	}
	chain := tools.ToolCallChain{SceneID: req.Context.SceneID, Steps: steps}
	if req.Context.ActorID != nil {
		chain.ActorID = *req.Context.ActorID
	}
	if req.Context.RequestID != nil {
		chain.RequestID = *req.Context.RequestID
	}
	return chain
}

func (o *Orchestrator) lookupCache(key string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.cache[key]
	if !ok || o.now().After(entry.expireAt) {
		return Result{}, false
	}
	return entry.result, true
}

func (o *Orchestrator) storeCache(key string, result Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache[key] = cacheEntry{result: result, expireAt: o.now().Add(cacheTTL)}
}
