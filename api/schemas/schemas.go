// Package schemas holds the data model shared across the pipelines: identity
// candidates flowing into the batch provisioner, attempt results flowing out of
// it, and the order run record produced by the browser state machine.
package schemas

import (
	"fmt"
	"time"
)

// AccountStatus tracks an account through its lifecycle on the remote site.
type AccountStatus string

const (
	AccountPending  AccountStatus = "pending"
	AccountVerified AccountStatus = "verified"
	AccountDone     AccountStatus = "done"
)

// AccountRecord mirrors a persisted site account. Records are created by a
// successful registration attempt and mutated only by an explicit verification
// action; the order pipeline reads them but never writes them.
type AccountRecord struct {
	ID        int64
	Email     string
	Password  string
	Verified  bool
	Status    AccountStatus
	CreatedAt time.Time
}

// Challenge is the ephemeral captcha challenge backing exactly one
// registration attempt. It carries the session identifiers the remote service
// issued it under; reusing a challenge across identities lets the service
// correlate attempts, so every attempt fetches its own.
type Challenge struct {
	ID          string
	ImageData   string // base64 payload, optionally with a data-URL prefix
	CookieID    string
	Fingerprint string
}

// AttemptOutcome classifies how a single registration attempt ended.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
)

// AttemptResult records the terminal state of one identity's registration
// attempt. Immutable once appended to a run's result list.
type AttemptResult struct {
	Identity  string
	Outcome   AttemptOutcome
	Detail    string
	Password  string // set only on success
	AccountID int64  // set only on success
}

// Succeeded reports whether the attempt produced an account.
func (r AttemptResult) Succeeded() bool { return r.Outcome == AttemptSucceeded }

// BatchReport is the sole artifact a provisioning run hands back to its
// caller. The result list is owned exclusively by the run that produced it.
type BatchReport struct {
	Requested int // identities after dedupe, before the known-account filter
	Skipped   []string
	Succeeded int
	Failed    int
	Results   []AttemptResult
	Elapsed   time.Duration
}

// Total returns the number of identities actually processed.
func (b BatchReport) Total() int { return len(b.Results) }

// OrderStage identifies a step of the fixed order execution sequence.
type OrderStage string

// The stage sequence is fixed and forward-only. A run never skips ahead and
// never moves backward; a retry starts a fresh run at StageAuthenticate.
const (
	StageAuthenticate    OrderStage = "authenticate"
	StageSelectProduct   OrderStage = "select_product"
	StageConfirmCart     OrderStage = "confirm_cart"
	StageSelectPayment   OrderStage = "select_payment"
	StageFillInstrument  OrderStage = "fill_instrument"
	StageSubmitPayment   OrderStage = "submit_payment"
	StageCaptureArtifact OrderStage = "capture_artifact"
)

// OrderStages lists the stages in execution order.
func OrderStages() []OrderStage {
	return []OrderStage{
		StageAuthenticate,
		StageSelectProduct,
		StageConfirmCart,
		StageSelectPayment,
		StageFillInstrument,
		StageSubmitPayment,
		StageCaptureArtifact,
	}
}

// OrderRequest carries everything an order run needs up front.
type OrderRequest struct {
	AccountID  int64
	Email      string
	Password   string
	ProductURL string
	Variant    string // optional variant label, empty means none
	Card       PaymentCard
}

// OrderResult is the terminal record of one order run. Exactly one of the
// success and failure halves is populated; FailedStage always names one of the
// seven defined stages.
type OrderResult struct {
	RunID        string
	Success      bool
	FailedStage  OrderStage
	Err          string
	ArtifactPath string // screenshot location, best effort even on success
	Elapsed      time.Duration
}

// String renders the result the way the front end reports it to the operator.
func (r OrderResult) String() string {
	if r.Success {
		return fmt.Sprintf("order %s completed (artifact: %s)", r.RunID, r.ArtifactPath)
	}
	return fmt.Sprintf("order %s failed at %s: %s", r.RunID, r.FailedStage, r.Err)
}

// OrderRecord mirrors a persisted order row.
type OrderRecord struct {
	ID             int64
	AccountID      int64
	ProductDetails string
	ScreenshotPath string
	Status         string
	CreatedAt      time.Time
}

// PaymentCard is a stored payment instrument. At most one card is the default
// at any time; promoting a card atomically demotes the previous default.
type PaymentCard struct {
	ID        int64
	Name      string
	Number    string
	Expiry    string // MM/YY
	CVV       string
	IsDefault bool
	CreatedAt time.Time
}

// MaskedNumber returns the card number reduced to its last four digits, the
// only form that may ever appear in logs or operator output.
func (c PaymentCard) MaskedNumber() string {
	if len(c.Number) < 4 {
		return "****"
	}
	return "****" + c.Number[len(c.Number)-4:]
}
