// Package browser wraps chromedp behind the five primitives the order machine
// needs: wait, click, type, locate and screenshot. One Session is one tab; a
// session belongs to exactly one order run and is closed on every exit path.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/internal/config"
)

// Manager owns the shared browser allocator and tracks live sessions so
// shutdown can wait for them.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	wg       sync.WaitGroup
	sessions map[string]*Session
}

// NewManager builds the allocator context but launches no browser yet;
// chromedp spawns the process lazily on the first session's first action.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		// Required for stability in containers.
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser_manager"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sessions:    make(map[string]*Session),
	}
}

// NewSession opens a fresh tab and connects it. The caller owns the returned
// session and must Close it on every exit path.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	// Force target creation now so acquisition failures surface here, as a
	// ResourceError, instead of mid-run inside a stage.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("browser: acquiring session: %w", err)
	}

	s := newSession(tabCtx, tabCancel, m.cfg.StageTimeout, m.logger)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.wg.Add(1)

	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	}

	m.logger.Info("Browser session created.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes all live sessions and tears down the allocator, waiting up
// to ctx's deadline for sessions to drain.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("Error closing session during shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close.", zap.Error(ctx.Err()))
	}

	m.allocCancel()
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
