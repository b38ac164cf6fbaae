// Package order drives a browser session through the fixed purchase sequence:
// authenticate, select product, confirm cart, choose payment, fill the card,
// submit payment and capture proof. Stages advance forward only; the first
// failure terminates the run and a retry is always a fresh run from stage one.
package order

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/config"
	"github.com/xkilldash9x/checkout-cli/internal/workerpool"
)

// Per-strategy budget for the submit-payment fallback. The stage ceiling
// bounds the whole stage; this keeps one dead locator from eating it all.
const strategyTimeout = 20 * time.Second

// loginWait bounds how long Authenticate waits for the post-login redirect.
const loginWait = 90 * time.Second

// StageError is a UI stage failure: the element was not found or not
// interactable within every fallback strategy and the wait ceiling.
type StageError struct {
	Stage schemas.OrderStage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SessionFactory acquires a fresh browser session for one run.
type SessionFactory func(ctx context.Context) (schemas.BrowserSession, error)

// Machine executes order runs on a bounded worker pool, because each run
// blocks for tens of seconds on real UI rendering.
type Machine struct {
	newSession  SessionFactory
	pool        *workerpool.Pool
	cfg         config.OrderConfig
	artifactDir string
	logger      *zap.Logger
}

// New wires an order machine.
func New(factory SessionFactory, pool *workerpool.Pool, cfg config.OrderConfig, logger *zap.Logger) (*Machine, error) {
	if factory == nil {
		return nil, errors.New("order: session factory must not be nil")
	}
	if pool == nil {
		return nil, errors.New("order: worker pool must not be nil")
	}
	if len(cfg.PayButtonXPaths) == 0 {
		return nil, errors.New("order: at least one pay button locator strategy is required")
	}

	dir, err := homedir.Expand(cfg.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("order: resolving artifact dir %q: %w", cfg.ArtifactDir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("order: creating artifact dir: %w", err)
	}

	return &Machine{
		newSession:  factory,
		pool:        pool,
		cfg:         cfg,
		artifactDir: dir,
		logger:      logger.Named("order"),
	}, nil
}

// Execute schedules the run on the pool and waits for its result. The caller
// blocks cooperatively; the pool bounds how many runs hold a browser at once.
func (m *Machine) Execute(ctx context.Context, req schemas.OrderRequest) (schemas.OrderResult, error) {
	var result schemas.OrderResult
	task, err := m.pool.Submit(ctx, func(taskCtx context.Context) error {
		result = m.run(taskCtx, req)
		return nil
	})
	if err != nil {
		return schemas.OrderResult{}, fmt.Errorf("order: scheduling run: %w", err)
	}
	if err := task.Wait(ctx); err != nil {
		return schemas.OrderResult{}, err
	}
	return result, nil
}

// step pairs a stage with its action.
type step struct {
	stage schemas.OrderStage
	fn    func(ctx context.Context, s schemas.BrowserSession, req schemas.OrderRequest) error
}

// run executes the full stage sequence against one fresh session. The session
// is released on every exit path: success, stage failure or panic.
func (m *Machine) run(ctx context.Context, req schemas.OrderRequest) (result schemas.OrderResult) {
	start := time.Now()
	runID := uuid.New().String()
	log := m.logger.With(zap.String("run_id", runID), zap.String("account", req.Email))

	result = schemas.OrderResult{RunID: runID}
	currentStage := schemas.StageAuthenticate

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic during order run.", zap.Any("panic", r))
			result.Success = false
			result.FailedStage = currentStage
			result.Err = fmt.Sprintf("internal error: %v", r)
		}
		result.Elapsed = time.Since(start)
	}()

	session, err := m.newSession(ctx)
	if err != nil {
		// Session acquisition is a resource error; it is reported against
		// the first stage because no later stage was ever reached.
		log.Error("Could not acquire browser session.", zap.Error(err))
		result.FailedStage = schemas.StageAuthenticate
		result.Err = fmt.Sprintf("browser session unavailable: %v", err)
		return result
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if closeErr := session.Close(closeCtx); closeErr != nil {
			log.Warn("Error releasing browser session.", zap.Error(closeErr))
		}
	}()

	steps := []step{
		{schemas.StageAuthenticate, m.authenticate},
		{schemas.StageSelectProduct, m.selectProduct},
		{schemas.StageConfirmCart, m.confirmCart},
		{schemas.StageSelectPayment, m.selectPayment},
		{schemas.StageFillInstrument, m.fillInstrument},
		{schemas.StageSubmitPayment, m.submitPayment},
	}

	for _, st := range steps {
		currentStage = st.stage
		log.Info("Entering stage.", zap.String("stage", string(st.stage)))
		if err := st.fn(ctx, session, req); err != nil {
			log.Warn("Stage failed, terminating run.", zap.String("stage", string(st.stage)), zap.Error(err))
			result.FailedStage = st.stage
			result.Err = err.Error()
			return result
		}
	}

	// CaptureArtifact is the terminal stage. A failed capture is logged but
	// never downgrades a completed order; the screenshot is evidence, not a
	// correctness gate.
	currentStage = schemas.StageCaptureArtifact
	if path, err := m.captureArtifact(ctx, session, req); err != nil {
		log.Warn("Artifact capture failed; order still completed.", zap.Error(err))
	} else {
		result.ArtifactPath = path
	}

	result.Success = true
	log.Info("Order run completed.", zap.String("artifact", result.ArtifactPath), zap.Duration("elapsed", time.Since(start)))
	return result
}

// authenticate logs the account in and waits for the post-login redirect.
func (m *Machine) authenticate(ctx context.Context, s schemas.BrowserSession, req schemas.OrderRequest) error {
	if err := s.Navigate(ctx, m.cfg.LoginURL); err != nil {
		return err
	}

	userField := `//input[@placeholder='Username or email address' or @autocomplete='username']`
	passField := `//input[@placeholder='Enter password' or @type='password' and @autocomplete='password']`
	loginBtn := `//button[contains(@class,'submit-btn') or .//span[text()='login']]`

	if err := s.SendKeys(ctx, userField, req.Email); err != nil {
		return fmt.Errorf("filling username: %w", err)
	}
	if err := s.SendKeys(ctx, passField, req.Password); err != nil {
		return fmt.Errorf("filling password: %w", err)
	}
	if err := s.Click(ctx, loginBtn); err != nil {
		return fmt.Errorf("clicking login: %w", err)
	}

	return m.waitURLChange(ctx, s, m.cfg.LoginURL)
}

// waitURLChange polls until the tab leaves fromURL, signalling the login
// round-trip finished.
func (m *Machine) waitURLChange(ctx context.Context, s schemas.BrowserSession, fromURL string) error {
	waitCtx, cancel := context.WithTimeout(ctx, loginWait)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		current, err := s.CurrentURL(waitCtx)
		if err == nil && current != fromURL {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("timed out waiting to leave %s (credentials rejected?)", fromURL)
		case <-ticker.C:
		}
	}
}

// selectProduct opens the product page, picks the variant when one was given,
// accepts the terms and starts the purchase.
func (m *Machine) selectProduct(ctx context.Context, s schemas.BrowserSession, req schemas.OrderRequest) error {
	if err := s.Navigate(ctx, req.ProductURL); err != nil {
		return err
	}

	if req.Variant != "" {
		variantXPath := fmt.Sprintf(`//span[contains(., %s)]`, xpathLiteral(req.Variant))
		if err := s.Click(ctx, variantXPath); err != nil {
			return fmt.Errorf("selecting variant %q: %w", req.Variant, err)
		}
	}

	if err := s.Click(ctx, `//span[contains(., 'Check Agree')]`); err != nil {
		return fmt.Errorf("agreeing to terms: %w", err)
	}
	if err := s.Click(ctx, `//button[.//span[contains(., 'Buy Now')]]`); err != nil {
		return fmt.Errorf("clicking buy now: %w", err)
	}
	return nil
}

// confirmCart confirms the order summary and re-accepts the purchase.
func (m *Machine) confirmCart(ctx context.Context, s schemas.BrowserSession, _ schemas.OrderRequest) error {
	if err := s.Click(ctx, `//button[.//span[contains(.,'Confirm')]]`); err != nil {
		return fmt.Errorf("clicking confirm: %w", err)
	}
	if err := s.Click(ctx, `//div[contains(@class, 'n-checkbox-box__border')]`); err != nil {
		return fmt.Errorf("ticking checkbox: %w", err)
	}
	if err := s.Click(ctx, `//span[normalize-space()='Buy Now']`); err != nil {
		return fmt.Errorf("clicking buy now: %w", err)
	}
	return nil
}

// selectPayment chooses the debit/credit card gateway.
func (m *Machine) selectPayment(ctx context.Context, s schemas.BrowserSession, _ schemas.OrderRequest) error {
	gateway := `//div[@class='gateway-title' and normalize-space()='Debit/Credit Card']/ancestor::label`
	if err := s.Click(ctx, gateway); err != nil {
		return fmt.Errorf("selecting card gateway: %w", err)
	}
	return nil
}

// fillInstrument types the card details into the embedded payment form. The
// form lives in an iframe; the session's XPath search pierces frames, so the
// fields are addressed directly.
func (m *Machine) fillInstrument(ctx context.Context, s schemas.BrowserSession, req schemas.OrderRequest) error {
	fields := []struct {
		name  string
		xpath string
		value string
	}{
		{"card holder name", `//input[@placeholder='Card Holder Name']`, req.Card.Name},
		{"card number", `//input[@placeholder='0000 0000 0000 0000']`, req.Card.Number},
		{"card expiry", `//input[@placeholder='MM/YY']`, req.Card.Expiry},
		{"card cvv", `//input[@placeholder='CVC/CVV']`, req.Card.CVV},
	}
	for _, f := range fields {
		if err := s.SendKeys(ctx, f.xpath, f.value); err != nil {
			return fmt.Errorf("filling %s: %w", f.name, err)
		}
	}
	return nil
}

// submitPayment clicks the final pay button, trying each configured locator
// strategy in priority order and short-circuiting on the first success. The
// payment page's markup drifts; only when every strategy fails is the stage
// declared failed.
func (m *Machine) submitPayment(ctx context.Context, s schemas.BrowserSession, _ schemas.OrderRequest) error {
	var failures []string
	for i, xpath := range m.cfg.PayButtonXPaths {
		strategyCtx, cancel := context.WithTimeout(ctx, strategyTimeout)
		err := s.Click(strategyCtx, xpath)
		cancel()

		if err == nil {
			m.logger.Info("Pay button clicked.", zap.Int("strategy", i+1))
			return nil
		}
		if ctx.Err() != nil {
			return &StageError{Stage: schemas.StageSubmitPayment, Err: ctx.Err()}
		}
		m.logger.Debug("Pay button strategy failed.", zap.Int("strategy", i+1), zap.Error(err))
		failures = append(failures, fmt.Sprintf("strategy %d: %v", i+1, err))
	}
	return &StageError{
		Stage: schemas.StageSubmitPayment,
		Err:   fmt.Errorf("all %d locator strategies failed: %s", len(m.cfg.PayButtonXPaths), strings.Join(failures, "; ")),
	}
}

// captureArtifact screenshots the confirmation view and stores it under the
// artifact directory.
func (m *Machine) captureArtifact(ctx context.Context, s schemas.BrowserSession, req schemas.OrderRequest) (string, error) {
	buf, err := s.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}

	name := fmt.Sprintf("order_%s_%d.png", sanitize(req.Email), time.Now().Unix())
	path := filepath.Join(m.artifactDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	return path, nil
}

// sanitize makes an email safe to embed in a file name.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// xpathLiteral quotes s as an XPath string literal, falling back to concat()
// when s mixes quote characters.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
