package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/health-reports/internal/core/command"
)

var ErrPoolClosed = errors.New("ocr pool closed")

// NewFactory returns the engine factory selected by cfg.Engine.
func NewFactory(cfg Config, runner command.Runner, logger *slog.Logger) (Factory, error) {
	cfg = cfg.withDefaults()
	switch cfg.Engine {
	case "tesseract":
		return func() (Engine, error) { return NewTesseractEngine(cfg, runner, logger), nil }, nil
	case "gosseract":
		return func() (Engine, error) { return NewGosseractEngine(cfg) }, nil
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
	}
}

// Pool owns a fixed set of engines created once per process and lends each
// to one caller at a time.
type Pool struct {
	factory Factory
	size    int
	logger  *slog.Logger

	once    sync.Once
	initErr error
	free    chan Engine

	mu     sync.Mutex
	all    []Engine
	closed bool
}

func NewPool(factory Factory, size int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 1
	}
	return &Pool{factory: factory, size: size, logger: logger}
}

// Init builds all engines. Only the first call does work; later calls
// return the first call's error.
func (p *Pool) Init() error {
	p.once.Do(func() {
		start := time.Now()
		p.free = make(chan Engine, p.size)
		for i := 0; i < p.size; i++ {
			e, err := p.factory()
			if err != nil {
				p.initErr = fmt.Errorf("init ocr engine %d/%d: %w", i+1, p.size, err)
				p.closeAll()
				return
			}
			p.mu.Lock()
			p.all = append(p.all, e)
			p.mu.Unlock()
			p.free <- e
		}
		p.logger.Info("ocr pool ready", "engines", p.size, "duration_ms", time.Since(start).Milliseconds())
	})
	return p.initErr
}

// Acquire blocks until an engine is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	if err := p.Init(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	select {
	case e := <-p.free:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns e to the pool.
func (p *Pool) Release(e Engine) {
	if e == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.free <- e
}

// Recognize runs img through a pooled engine.
func (p *Pool) Recognize(ctx context.Context, img image.Image) ([]Line, error) {
	e, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(e)
	return e.Recognize(ctx, img)
}

// Close shuts every engine down. Engines still on loan are closed too.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, e := range p.all {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.all = nil
	return errors.Join(errs...)
}

func (p *Pool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.all {
		_ = e.Close()
	}
	p.all = nil
}
