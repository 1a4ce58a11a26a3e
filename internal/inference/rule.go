package inference

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbengine/pkg/types"
)

// RuleInferrer proposes MutuallyExclusive relations among markets whose
// questions share a common leading-word prefix (e.g. "Who will win the
// 2024 election: Candidate A" / "...: Candidate B"): these are almost
// always the outcome-per-market encoding of a single underlying question.
type RuleInferrer struct {
	// PrefixWords is how many leading words must match to group two
	// questions. Defaults to 4 if zero.
	PrefixWords int
	// Confidence is the fixed confidence assigned to every proposed
	// relation, since the heuristic has no graded signal of its own.
	Confidence float64
	// TTL controls how long a proposed relation is considered valid.
	TTL time.Duration
}

func (r RuleInferrer) Infer(ctx context.Context, batch []types.Market) ([]types.Relation, error) {
	prefixWords := r.PrefixWords
	if prefixWords <= 0 {
		prefixWords = 4
	}
	confidence := r.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}

	groups := make(map[string][]types.MarketId)
	for _, m := range batch {
		sig := prefixSignature(m.Question, prefixWords)
		if sig == "" {
			continue
		}
		groups[sig] = append(groups[sig], m.Id)
	}

	now := time.Now()
	var out []types.Relation
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		out = append(out, types.Relation{
			Id:         types.RelationId(uuid.NewString()),
			Kind:       types.KindMutuallyExclusive,
			Markets:    members,
			Confidence: confidence,
			Reasoning:  "shared question prefix",
			InferredAt: now,
			ExpiresAt:  now.Add(r.TTL),
		})
	}
	return out, nil
}

func prefixSignature(question string, words int) string {
	fields := strings.Fields(strings.ToLower(question))
	if len(fields) < words {
		return ""
	}
	return strings.Join(fields[:words], " ")
}
