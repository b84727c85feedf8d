package pattern

import (
	"context"
	"sync"

	"pattern_worker/core/port/out"
)

// scriptedOracle answers every call through fn and records the requests.
type scriptedOracle struct {
	mu    sync.Mutex
	calls []out.OracleRequest
	fn    func(call int, req out.OracleRequest) (string, error)
}

func (o *scriptedOracle) Generate(_ context.Context, req out.OracleRequest) (*out.OracleResponse, error) {
	o.mu.Lock()
	o.calls = append(o.calls, req)
	n := len(o.calls)
	o.mu.Unlock()

	text, err := o.fn(n, req)
	if err != nil {
		return nil, err
	}
	return &out.OracleResponse{Text: text, TokensUsed: 42}, nil
}

func (o *scriptedOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func fixedOracle(text string) *scriptedOracle {
	return &scriptedOracle{fn: func(int, out.OracleRequest) (string, error) { return text, nil }}
}
