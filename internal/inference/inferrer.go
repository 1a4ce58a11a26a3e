package inference

import (
	"context"

	"arbengine/pkg/types"
)

// Inferrer proposes relations for a batch of markets. Implementations must
// not mutate the input and must return only relations whose Markets/IfYes/
// ThenYes/Terms reference ids present in the batch (the validator drops
// anything that doesn't, but well-behaved implementations never emit it).
type Inferrer interface {
	Infer(ctx context.Context, batch []types.Market) ([]types.Relation, error)
}

// NullInferrer proposes nothing. Used when inference is disabled but the
// coordinator is still wired, so toggling the config flag never requires
// restructuring the orchestrator.
type NullInferrer struct{}

func (NullInferrer) Infer(ctx context.Context, batch []types.Market) ([]types.Relation, error) {
	return nil, nil
}

// HybridInferrer runs RuleInferrer first (cheap, synchronous) and then the
// wrapped Inferrer (typically LLMInferrer), concatenating their proposals.
// A rule-discovered relation that the LLM also proposes is harmless
// duplication: the cluster cache's AddRelations appends relations without
// deduplicating them, and ids are independent per source here, so both
// survive as corroborating evidence.
type HybridInferrer struct {
	Rule Inferrer
	LLM  Inferrer
}

func (h HybridInferrer) Infer(ctx context.Context, batch []types.Market) ([]types.Relation, error) {
	var out []types.Relation
	if h.Rule != nil {
		rel, err := h.Rule.Infer(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, rel...)
	}
	if h.LLM != nil {
		rel, err := h.LLM.Infer(ctx, batch)
		if err != nil {
			return out, err
		}
		out = append(out, rel...)
	}
	return out, nil
}
