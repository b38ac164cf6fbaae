// Package provision implements the bulk account provisioning pipeline: for
// each candidate identity it fetches a captcha challenge, solves it, submits
// the registration and records the outcome, strictly one identity at a time.
package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/captcha"
	"github.com/xkilldash9x/checkout-cli/internal/credentials"
)

// emailPattern matches email-like tokens inside free-form operator input.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractIdentities pulls identity candidates out of free text, lowercased and
// deduplicated case-insensitively while preserving first-seen order.
func ExtractIdentities(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	identities := make([]string, 0, len(matches))
	for _, m := range matches {
		email := strings.ToLower(strings.TrimSpace(m))
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		identities = append(identities, email)
	}
	return identities
}

// Pipeline drives a provisioning batch. Items run serially, never in
// parallel: the inter-item cool-down is a deliberate throttle against the
// remote service's abuse detection and fan-out would defeat it.
type Pipeline struct {
	api    schemas.RegistrationAPI
	solver schemas.CaptchaSolver
	store  schemas.Store
	logger *zap.Logger

	limiter        *rate.Limiter
	passwordLength int
}

// New wires a pipeline from its collaborators. cooldown is the fixed
// inter-attempt delay.
func New(
	api schemas.RegistrationAPI,
	solver schemas.CaptchaSolver,
	store schemas.Store,
	cooldown time.Duration,
	passwordLength int,
	logger *zap.Logger,
) (*Pipeline, error) {
	if api == nil || solver == nil || store == nil {
		return nil, errors.New("provision: all collaborators must be non-nil")
	}
	if passwordLength < credentials.MinLength {
		return nil, fmt.Errorf("provision: password length %d below minimum %d", passwordLength, credentials.MinLength)
	}
	return &Pipeline{
		api:            api,
		solver:         solver,
		store:          store,
		logger:         logger.Named("provision"),
		limiter:        rate.NewLimiter(rate.Every(cooldown), 1),
		passwordLength: passwordLength,
	}, nil
}

// Run processes the candidate identities and returns the batch report.
// Identities already known to the store are reported as skipped. One bad item
// never aborts the batch; the only way Run returns early is caller context
// cancellation, and even then the partial report is returned.
func (p *Pipeline) Run(ctx context.Context, candidates []string, notifier schemas.Notifier) (*schemas.BatchReport, error) {
	if notifier == nil {
		notifier = schemas.NopNotifier{}
	}
	start := time.Now()

	identities, skipped, err := p.filterKnown(ctx, candidates)
	if err != nil {
		return nil, err
	}

	report := &schemas.BatchReport{
		Requested: len(candidates),
		Skipped:   skipped,
		Results:   make([]schemas.AttemptResult, 0, len(identities)),
	}

	p.logger.Info("Starting provisioning batch.",
		zap.Int("candidates", len(candidates)),
		zap.Int("to_process", len(identities)),
		zap.Int("skipped", len(skipped)),
	)

	for i, identity := range identities {
		// The cool-down gates every item including the first; the
		// limiter's initial burst makes that first wait free.
		if err := p.limiter.Wait(ctx); err != nil {
			report.Elapsed = time.Since(start)
			return report, fmt.Errorf("provision: batch interrupted: %w", err)
		}

		notify(notifier, i+1, len(identities), identity, "processing")
		result := p.processOne(ctx, identity, i)
		report.Results = append(report.Results, result)

		if result.Succeeded() {
			report.Succeeded++
			notify(notifier, i+1, len(identities), identity, "succeeded")
		} else {
			report.Failed++
			notify(notifier, i+1, len(identities), identity, "failed: "+result.Detail)
		}
	}

	report.Elapsed = time.Since(start)
	p.logger.Info("Provisioning batch finished.",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// filterKnown drops identities that already have an account, case-insensitively.
func (p *Pipeline) filterKnown(ctx context.Context, candidates []string) (identities, skipped []string, err error) {
	existing, err := p.store.ListAccounts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("provision: listing known accounts: %w", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, acc := range existing {
		known[strings.ToLower(acc.Email)] = struct{}{}
	}

	for _, c := range candidates {
		if _, ok := known[strings.ToLower(c)]; ok {
			skipped = append(skipped, c)
			continue
		}
		identities = append(identities, c)
	}
	return identities, skipped, nil
}

// processOne runs the per-item state machine: FetchingChallenge →
// SolvingCaptcha → Registering → Recorded. Any panic or unexpected error is
// contained at this boundary and recorded as the item's failure so siblings
// keep their results.
func (p *Pipeline) processOne(ctx context.Context, identity string, index int) (result schemas.AttemptResult) {
	result = schemas.AttemptResult{Identity: identity, Outcome: schemas.AttemptFailed}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered panic while processing identity.",
				zap.String("identity", identity), zap.Any("panic", r))
			result.Detail = fmt.Sprintf("internal error: %v", r)
		}
	}()

	log := p.logger.With(zap.String("identity", identity))

	// FetchingChallenge. Each attempt gets its own challenge and session
	// context; nothing is reused across identities.
	challenge, err := p.api.FetchChallenge(ctx)
	if err != nil {
		log.Warn("Challenge fetch failed.", zap.Error(err))
		result.Detail = "challenge unavailable"
		return result
	}

	// SolvingCaptcha.
	slug := fmt.Sprintf("batch_%d_%d", index, time.Now().Unix())
	solved, err := p.solver.Solve(ctx, challenge.ImageData, slug)
	if err != nil {
		if errors.Is(err, captcha.ErrRecognitionFailed) {
			log.Info("Captcha recognition failed, skipping identity.")
			result.Detail = "recognition failed"
		} else {
			log.Warn("Captcha solving failed.", zap.Error(err))
			result.Detail = err.Error()
		}
		return result
	}

	// Registering.
	password, err := credentials.Generate(p.passwordLength)
	if err != nil {
		// Only a caller contract violation or a broken random source
		// lands here; both are worth recording, not crashing over.
		result.Detail = err.Error()
		return result
	}

	remoteID, err := p.api.Register(ctx, identity, password, challenge, solved)
	if err != nil {
		log.Warn("Registration rejected.", zap.Error(err))
		result.Detail = err.Error()
		return result
	}

	accountID, err := p.store.AddAccount(ctx, identity, password)
	if err != nil {
		// The remote account exists but we failed to record it; surface
		// the password in the report so the operator does not lose it.
		log.Error("Account registered remotely but not persisted.", zap.Error(err))
		result.Detail = fmt.Sprintf("registered (remote id %d) but not persisted: %v", remoteID, err)
		result.Password = password
		return result
	}

	log.Info("Account created.", zap.Int64("account_id", accountID))
	return schemas.AttemptResult{
		Identity:  identity,
		Outcome:   schemas.AttemptSucceeded,
		Detail:    "success",
		Password:  password,
		AccountID: accountID,
	}
}

// notify delivers a progress update, swallowing panics: advisory updates must
// never affect pipeline correctness.
func notify(n schemas.Notifier, current, total int, identity, status string) {
	defer func() { _ = recover() }()
	n.Progress(current, total, identity, status)
}
