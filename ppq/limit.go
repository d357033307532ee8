// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ppq

import (
	"context"
	"errors"
)

// ErrAlreadyInLimitScope and ErrNotInLimitScope guard the limit_begin/
// limit_push/limit_top_pop/limit_end protocol's scope discipline (spec.md
// §4.7.6).
var (
	ErrAlreadyInLimitScope = errors.New("ppq: limit_begin called while a limit scope is already open")
	ErrNotInLimitScope     = errors.New("ppq: limit_push/limit_top_pop/limit_end called outside a limit scope")
)

// LimitBegin opens a limit scope: subsequent LimitPush(v,t) promises
// v does not rank after ub (cmp.Less(v, ub) is false), and LimitTopPop
// returns the next winner among already-queued elements and limit-pushed
// elements without re-ranking against the whole queue (spec.md §4.7.6).
// While the scope is open, Top, Pop and BulkPop return
// ErrPreconditionViolation. hint is the expected bulk size, accepted for
// interface fidelity only.
func (p *PPQ[V]) LimitBegin(ctx context.Context, ub V, hint int) error {
	_ = hint
	_ = ctx
	if p.err != nil {
		return p.err
	}
	if p.inLimit {
		return ErrAlreadyInLimitScope
	}
	p.limitUB = ub
	p.limitHeaps = make([][]V, len(p.heaps))
	p.inLimit = true
	return nil
}

// LimitPush inserts v into worker t's limit heap. The caller contracts that
// v does not rank after limitUB; this is not checked, matching spec.md
// §4.7.6's "unchecked for performance" note.
func (p *PPQ[V]) LimitPush(v V, t int) error {
	if p.err != nil {
		return p.err
	}
	if !p.inLimit {
		return ErrNotInLimitScope
	}
	if t < 0 || t >= len(p.limitHeaps) {
		return ErrNotInLimitScope
	}
	p.limitHeaps[t] = append(p.limitHeaps[t], v)
	return nil
}

// LimitTopPop returns whichever of f and the best limit-heap element wins
// under the queue's comparator (the maximum under Less, f on a tie; spec.md
// §4.7.6), where f is the regular queue's current front: if f still wins, it delegates to the regular Pop (so the next
// call sees the regular queue's new front); otherwise it extracts directly
// from the winning limit heap without touching the rest of the queue's
// state.
func (p *PPQ[V]) LimitTopPop(ctx context.Context) (V, bool, error) {
	if p.err != nil {
		var zero V
		return zero, false, p.err
	}
	if !p.inLimit {
		var zero V
		return zero, false, ErrNotInLimitScope
	}

	bestWorker, bestIdx := -1, -1
	var bestVal V
	for t, h := range p.limitHeaps {
		for i, v := range h {
			if bestWorker == -1 || p.cmp.Less(bestVal, v) {
				bestVal, bestWorker, bestIdx = v, t, i
			}
		}
	}

	frontier, haveFrontier, err := p.top(ctx)
	if err != nil {
		return frontier, false, err
	}

	if bestWorker == -1 || (haveFrontier && !p.cmp.Less(frontier, bestVal)) {
		if !haveFrontier {
			var zero V
			return zero, false, nil
		}
		return p.pop(ctx)
	}

	h := p.limitHeaps[bestWorker]
	last := len(h) - 1
	h[bestIdx] = h[last]
	p.limitHeaps[bestWorker] = h[:last]
	return bestVal, true, nil
}

// LimitEnd closes the limit scope, merging every limit heap's remaining
// contents into the regular insertion pipeline (spec.md §4.7.6).
func (p *PPQ[V]) LimitEnd() error {
	if !p.inLimit {
		return ErrNotInLimitScope
	}
	for t, h := range p.limitHeaps {
		for _, v := range h {
			p.heaps[t] = append(p.heaps[t], v)
		}
		if len(p.heaps[t]) > p.heapCap {
			p.flushWorker(t)
		}
	}
	p.limitHeaps = nil
	p.inLimit = false
	return nil
}
