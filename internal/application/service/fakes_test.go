package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

// step is one scripted FetchPage answer.
type step struct {
	records []map[string]any
	next    string
	err     error
}

// scriptedExchange replays steps in order and records every request.
type scriptedExchange struct {
	mu    sync.Mutex
	steps []step
	reqs  []port.PageRequest
	// block, when set, holds every call until closed or ctx is done.
	block chan struct{}
}

func (e *scriptedExchange) Name() string { return "scripted" }

func (e *scriptedExchange) FetchPage(ctx context.Context, req port.PageRequest) (*port.ActivityPage, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	if len(e.steps) == 0 {
		return nil, fmt.Errorf("%w: script exhausted", model.ErrPermanent)
	}
	s := e.steps[0]
	e.steps = e.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return &port.ActivityPage{Records: s.records, NextCursor: s.next}, nil
}

func (e *scriptedExchange) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reqs)
}

type recordingSink struct {
	mu   sync.Mutex
	runs []model.SyncRun
}

func (s *recordingSink) PublishRun(_ context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%03d", g.n)
}

func krakenTrade(ref string, ts int64, dir, pair, price, vol, cost, fee string) map[string]any {
	return map[string]any{
		"txid": ref, "type": "trade", "direction": dir, "pair": pair,
		"price": price, "vol": vol, "cost": cost, "fee": fee, "time": ts,
	}
}

func noSleep(context.Context, time.Duration) error { return nil }
