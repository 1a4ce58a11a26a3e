package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"arbengine/pkg/types"
)

// llmRequest is the structured prompt sent to the LLM provider: a batch of
// (id, question) pairs plus a fixed schema description the provider is
// expected to honor in its response.
type llmRequest struct {
	Markets []llmMarket `json:"markets"`
	Schema  string      `json:"schema"`
}

type llmMarket struct {
	Id       string `json:"id"`
	Question string `json:"question"`
}

// llmResponse mirrors the wire schema: a flat list of constraints, one of
// four kinds distinguished by Type.
type llmResponse struct {
	Constraints []llmConstraint `json:"constraints"`
}

type llmConstraint struct {
	Type       string        `json:"type"`
	IfYes      string        `json:"if_yes"`
	ThenYes    string        `json:"then_yes"`
	Markets    []string      `json:"markets"`
	Terms      [][2]any      `json:"terms"`
	Sense      string        `json:"sense"`
	RHS        float64       `json:"rhs"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
}

const promptSchema = `{"constraints":[` +
	`{"type":"implies","if_yes":"<id>","then_yes":"<id>","confidence":<float>,"reasoning":"<text>"},` +
	`{"type":"mutually_exclusive","markets":["<id>",...],"confidence":<float>,"reasoning":"<text>"},` +
	`{"type":"exactly_one","markets":["<id>",...],"confidence":<float>,"reasoning":"<text>"},` +
	`{"type":"linear","terms":[["<id>",<coeff>],...],"sense":"<=|=|>=","rhs":<float>,"confidence":<float>,"reasoning":"<text>"}]}`

// LLMInferrer proposes relations by asking a hosted model to find logical
// constraints among a batch of market questions. The request/response
// shape follows the provider's structured-JSON completion endpoint; any
// resty-compatible HTTP endpoint that accepts this shape works.
type LLMInferrer struct {
	http *resty.Client
	ttl  time.Duration
}

// NewLLMInferrer creates an inferrer pointed at endpoint with apiKey bearer
// auth and the given per-call timeout.
func NewLLMInferrer(endpoint, apiKey string, timeout time.Duration, ttl time.Duration) *LLMInferrer {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetAuthToken(apiKey).
		SetRetryCount(1)
	return &LLMInferrer{http: client, ttl: ttl}
}

func (l *LLMInferrer) Infer(ctx context.Context, batch []types.Market) ([]types.Relation, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	req := llmRequest{Schema: promptSchema}
	for _, m := range batch {
		req.Markets = append(req.Markets, llmMarket{Id: string(m.Id), Question: m.Question})
	}

	var resp llmResponse
	httpResp, err := l.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post("/infer")
	if err != nil {
		return nil, fmt.Errorf("llm infer: %w", err)
	}
	if httpResp.StatusCode() != 200 {
		return nil, fmt.Errorf("llm infer: status %d", httpResp.StatusCode())
	}

	now := time.Now()
	out := make([]types.Relation, 0, len(resp.Constraints))
	for _, c := range resp.Constraints {
		rel, ok := convertConstraint(c, now, l.ttl)
		if !ok {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

func convertConstraint(c llmConstraint, now time.Time, ttl time.Duration) (types.Relation, bool) {
	base := types.Relation{
		Id:         types.RelationId(uuid.NewString()),
		Confidence: c.Confidence,
		Reasoning:  c.Reasoning,
		InferredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	switch c.Type {
	case "implies":
		if c.IfYes == "" || c.ThenYes == "" {
			return types.Relation{}, false
		}
		base.Kind = types.KindImplies
		base.IfYes = types.MarketId(c.IfYes)
		base.ThenYes = types.MarketId(c.ThenYes)
	case "mutually_exclusive":
		if len(c.Markets) < 2 {
			return types.Relation{}, false
		}
		base.Kind = types.KindMutuallyExclusive
		base.Markets = toMarketIds(c.Markets)
	case "exactly_one":
		if len(c.Markets) < 2 {
			return types.Relation{}, false
		}
		base.Kind = types.KindExactlyOne
		base.Markets = toMarketIds(c.Markets)
	case "linear":
		if len(c.Terms) == 0 {
			return types.Relation{}, false
		}
		base.Kind = types.KindLinear
		base.Sense = types.Sense(c.Sense)
		base.RHS = c.RHS
		for _, term := range c.Terms {
			if len(term) != 2 {
				continue
			}
			id, idOK := term[0].(string)
			coeff, coeffOK := term[1].(float64)
			if !idOK || !coeffOK {
				continue
			}
			base.Terms = append(base.Terms, types.LinearTerm{MarketId: types.MarketId(id), Coefficient: coeff})
		}
		if len(base.Terms) == 0 {
			return types.Relation{}, false
		}
	default:
		return types.Relation{}, false
	}
	return base, true
}

func toMarketIds(ids []string) []types.MarketId {
	out := make([]types.MarketId, len(ids))
	for i, id := range ids {
		out[i] = types.MarketId(id)
	}
	return out
}
