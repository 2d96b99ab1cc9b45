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
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// diceExpr is a parsed NdM+K expression.
type diceExpr struct {
	Count  int
	Sides  int
	Modify int
}

// parseDiceExpr parses "NdM", "NdM+K", or "NdM-K".
func parseDiceExpr(expr string) (diceExpr, error) {
	expr = strings.TrimSpace(expr)
	dIdx := strings.IndexByte(expr, 'd')
	if dIdx < 0 {
		dIdx = strings.IndexByte(expr, 'D')
	}
	if dIdx < 0 {
		return diceExpr{}, fmt.Errorf("tools: invalid dice expression %q", expr)
	}
	countPart := expr[:dIdx]
	rest := expr[dIdx+1:]

	count := 1
	if countPart != "" {
		n, err := strconv.Atoi(countPart)
		if err != nil {
			return diceExpr{}, fmt.Errorf("tools: invalid dice count in %q", expr)
		}
		count = n
	}

	sidesPart := rest
	modify := 0
	if plusIdx := strings.IndexAny(rest, "+-"); plusIdx >= 0 {
		sidesPart = rest[:plusIdx]
		modPart := rest[plusIdx:]
		n, err := strconv.Atoi(modPart)
		if err != nil {
			return diceExpr{}, fmt.Errorf("tools: invalid dice modifier in %q", expr)
		}
		modify = n
	}
	sides, err := strconv.Atoi(sidesPart)
	if err != nil {
		return diceExpr{}, fmt.Errorf("tools: invalid dice sides in %q", expr)
	}
	if count <= 0 || sides <= 0 {
		return diceExpr{}, fmt.Errorf("tools: dice count and sides must be positive in %q", expr)
	}
	return diceExpr{Count: count, Sides: sides, Modify: modify}, nil
}

// rngFromSeed builds a deterministic PRNG when a seed is supplied; returns
// nil when seed is absent, signalling callers to use process randomness.
func rngFromSeed(args map[string]any) *rand.Rand {
	seed, ok := intArg(args, "seed")
	if !ok {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}

func rollDice(expr diceExpr, rng *rand.Rand) ([]int64, int64) {
	rolls := make([]int64, expr.Count)
	var total int64
	for i := 0; i < expr.Count; i++ {
		var r int
		if rng != nil {
			r = rng.Intn(expr.Sides) + 1
		} else {
			r = rand.Intn(expr.Sides) + 1
		}
		rolls[i] = int64(r)
		total += int64(r)
	}
	total += int64(expr.Modify)
	return rolls, total
}

func formatRolls(rolls []int64) string {
	parts := make([]string, len(rolls))
	for i, r := range rolls {
		parts[i] = strconv.FormatInt(r, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
