package tts

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// FailoverProvider tries a primary provider first and switches to the next in
// line when it fails. Once a fallback succeeds it stays active until it fails
// itself, at which point earlier providers are retried. The last element of
// the chain should be the tone generator, which never fails.
type FailoverProvider struct {
	chain  []Provider
	active atomic.Int32 // index of the provider that last succeeded
}

// NewFailoverProvider builds a failover chain. At least one provider is
// required; callers append NewToneProvider() to guarantee forward progress.
func NewFailoverProvider(chain ...Provider) *FailoverProvider {
	return &FailoverProvider{chain: chain}
}

func (p *FailoverProvider) Name() string {
	idx := int(p.active.Load())
	if idx < len(p.chain) {
		return p.chain[idx].Name()
	}
	return "failover"
}

func (p *FailoverProvider) Synthesize(ctx context.Context, req Request) (*Result, error) {
	start := int(p.active.Load())

	// Try the sticky provider first, then the rest of the chain from the top.
	order := make([]int, 0, len(p.chain))
	order = append(order, start)
	for i := range p.chain {
		if i != start {
			order = append(order, i)
		}
	}

	var lastErr error
	for _, i := range order {
		result, err := p.chain[i].Synthesize(ctx, req)
		if err == nil {
			if i != start {
				log.Warn().
					Str("from", p.chain[start].Name()).
					Str("to", p.chain[i].Name()).
					Msg("TTS provider switched")
				p.active.Store(int32(i))
			}
			return result, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("provider", p.chain[i].Name()).Msg("TTS provider failed")
	}

	return nil, lastErr
}
