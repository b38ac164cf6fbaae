package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
)

// Session is one browser tab implementing schemas.BrowserSession. All element
// lookups use XPath because the target site's markup is selected that way.
type Session struct {
	id           string
	ctx          context.Context
	cancel       context.CancelFunc
	logger       *zap.Logger
	stageTimeout time.Duration

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BrowserSession = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, stageTimeout time.Duration, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.Named("session").With(zap.String("session_id", id)),
		stageTimeout: stageTimeout,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Navigate loads url and waits for the document body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, "navigate",
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// WaitVisible blocks until the element located by xpath is rendered, or the
// stage wait ceiling passes.
func (s *Session) WaitVisible(ctx context.Context, xpath string) error {
	return s.run(ctx, "wait_visible", chromedp.WaitVisible(xpath, chromedp.BySearch))
}

// Click waits for the element and clicks it. If the native click fails (the
// target site overlays elements routinely) it retries once with a JavaScript
// dispatch, which goes through regardless of hit testing.
func (s *Session) Click(ctx context.Context, xpath string) error {
	err := s.run(ctx, "click",
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.Click(xpath, chromedp.BySearch),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	s.logger.Debug("Native click failed, retrying via JS dispatch.", zap.String("xpath", xpath), zap.Error(err))
	return s.run(ctx, "click_js", chromedp.Evaluate(jsClick(xpath), nil))
}

// SendKeys waits for the input, clears it and types value. Input, change and
// blur events are dispatched afterwards because the site's framework only
// commits field state on them.
func (s *Session) SendKeys(ctx context.Context, xpath, value string) error {
	err := s.run(ctx, "send_keys",
		chromedp.WaitVisible(xpath, chromedp.BySearch),
		chromedp.SetValue(xpath, "", chromedp.BySearch),
		chromedp.SendKeys(xpath, value, chromedp.BySearch),
	)
	if err != nil {
		return err
	}
	return s.run(ctx, "dispatch_events", chromedp.Evaluate(jsDispatchEvents(xpath), nil))
}

// CurrentURL reports the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, "current_url", chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Screenshot captures the viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close tears the tab down. Safe to call from multiple exit paths; only the
// first call does anything.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// run executes actions under both the session lifetime and the caller's
// context, bounded by the stage wait ceiling.
func (s *Session) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	if s.stageTimeout > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, s.stageTimeout)
		defer timeoutCancel()
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("browser: %s: %w", op, err)
	}
	return nil
}

// combineContext derives a context from primary that is also cancelled when
// secondary is. chromedp needs the primary (tab) context for target routing,
// but callers still deserve their own cancellation.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// jsClick dispatches a click on the first node matching the XPath expression.
func jsClick(xpath string) string {
	return fmt.Sprintf(`(function() {
		const node = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (node) { node.click(); return true; }
		return false;
	})()`, xpath)
}

// jsDispatchEvents fires the framework-facing events on the matched input.
func jsDispatchEvents(xpath string) string {
	return fmt.Sprintf(`(function() {
		const node = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!node) { return false; }
		for (const type of ['input', 'change', 'blur']) {
			node.dispatchEvent(new Event(type, { bubbles: true }));
		}
		return true;
	})()`, xpath)
}
