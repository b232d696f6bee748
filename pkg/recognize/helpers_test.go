package recognize

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeEngine returns canned detections for its pass.
type fakeEngine struct {
	detections []Detection
	err        error
	calls      atomic.Int32
	closed     atomic.Bool
}

func (f *fakeEngine) Recognize(ctx context.Context, image []byte) ([]Detection, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.detections, f.err
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeFactory builds fakeEngines from a table keyed by pass key. Unknown keys
// get an engine with no detections.
type fakeFactory struct {
	mu      sync.Mutex
	table   map[string]*fakeEngine
	built   map[string]int
	err     error
	started chan struct{}
	gate    chan struct{}
}

func newFakeFactory(table map[string]*fakeEngine) *fakeFactory {
	if table == nil {
		table = map[string]*fakeEngine{}
	}
	return &fakeFactory{table: table, built: map[string]int{}}
}

func (f *fakeFactory) build(ctx context.Context, pass Pass) (Engine, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.built[pass.Key()]++
	if f.err != nil {
		return nil, f.err
	}
	engine, ok := f.table[pass.Key()]
	if !ok {
		engine = &fakeEngine{}
		f.table[pass.Key()] = engine
	}
	return engine, nil
}

func (f *fakeFactory) constructions(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[key]
}

func (f *fakeFactory) engine(key string) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.table[key]
}
