package schemas

import (
	"context"
	"image"
)

// Store is the persistence contract the pipelines depend on. The concrete
// implementation lives in internal/store; tests substitute fakes.
type Store interface {
	AddAccount(ctx context.Context, email, password string) (int64, error)
	MarkVerified(ctx context.Context, accountID int64) error
	ListAccounts(ctx context.Context) ([]AccountRecord, error)
	ListUnusedVerifiedAccounts(ctx context.Context) ([]AccountRecord, error)

	CreateOrder(ctx context.Context, accountID int64, productDetails string) (int64, error)
	MarkOrderComplete(ctx context.Context, orderID int64, artifactPath string) error

	AddCard(ctx context.Context, card PaymentCard) (int64, error)
	ListCards(ctx context.Context) ([]PaymentCard, error)
	GetDefaultCard(ctx context.Context) (PaymentCard, error)
	SetDefaultCard(ctx context.Context, cardID int64) error
	DeleteCard(ctx context.Context, cardID int64) error
}

// Recognizer is the opaque image-to-text capability. The OCR engine itself is
// an external collaborator; the solver only requires this one method.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// CaptchaSolver turns a challenge image payload into recognized text.
// Recognition is CPU-blocking, so implementations run it off the caller's
// scheduling context.
type CaptchaSolver interface {
	Solve(ctx context.Context, imageData string, slug string) (string, error)
}

// RegistrationAPI is the remote registration surface consumed by the batch
// pipeline. Each call carries its own session context; contexts are never
// reused across identities.
type RegistrationAPI interface {
	FetchChallenge(ctx context.Context) (*Challenge, error)
	Register(ctx context.Context, email, password string, ch *Challenge, solvedText string) (int64, error)
}

// BrowserSession is the minimal browser surface the order machine drives.
// Implementations wrap one tab; a session belongs to exactly one run and is
// released on every exit path.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, xpath string) error
	Click(ctx context.Context, xpath string) error
	SendKeys(ctx context.Context, xpath, value string) error
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Notifier receives advisory progress updates from a running pipeline. Updates
// are best effort; delivery failure must never affect pipeline correctness.
type Notifier interface {
	Progress(current, total int, identity, status string)
}

// NopNotifier discards all progress updates.
type NopNotifier struct{}

func (NopNotifier) Progress(int, int, string, string) {}
