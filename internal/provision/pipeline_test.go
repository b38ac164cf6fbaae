package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/captcha"
)

func TestExtractIdentities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain list",
			text: "a@example.com b@example.com",
			want: []string{"a@example.com", "b@example.com"},
		},
		{
			name: "embedded in prose",
			text: "please register First@Example.com and also second@test.org today",
			want: []string{"first@example.com", "second@test.org"},
		},
		{
			name: "case insensitive dedupe preserving first-seen order",
			text: "A@example.com b@example.com a@EXAMPLE.com",
			want: []string{"a@example.com", "b@example.com"},
		},
		{
			name: "no identities",
			text: "nothing to see here",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractIdentities(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractIdentities mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// fakeAPI scripts per-identity behavior for the registration endpoints.
type fakeAPI struct {
	challengeErr error
	registerErr  map[string]error // keyed by email, nil entry means success

	registered []string
}

func (f *fakeAPI) FetchChallenge(context.Context) (*schemas.Challenge, error) {
	if f.challengeErr != nil {
		return nil, f.challengeErr
	}
	return &schemas.Challenge{ID: "cap", ImageData: "aW1n", CookieID: "dev", Fingerprint: "fp"}, nil
}

func (f *fakeAPI) Register(_ context.Context, email, _ string, _ *schemas.Challenge, _ string) (int64, error) {
	if err := f.registerErr[email]; err != nil {
		return 0, err
	}
	f.registered = append(f.registered, email)
	return int64(len(f.registered)), nil
}

// fakeSolver returns fixed text or a scripted error.
type fakeSolver struct {
	text string
	err  error
}

func (f *fakeSolver) Solve(context.Context, string, string) (string, error) {
	return f.text, f.err
}

// fakeStore tracks accounts in memory; only the methods the pipeline touches
// are meaningful.
type fakeStore struct {
	mu       sync.Mutex
	accounts []schemas.AccountRecord
	addErr   error
}

func (f *fakeStore) AddAccount(_ context.Context, email, password string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return 0, f.addErr
	}
	id := int64(len(f.accounts) + 1)
	f.accounts = append(f.accounts, schemas.AccountRecord{ID: id, Email: email, Password: password})
	return id, nil
}

func (f *fakeStore) ListAccounts(context.Context) ([]schemas.AccountRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.AccountRecord(nil), f.accounts...), nil
}

func (f *fakeStore) MarkVerified(context.Context, int64) error { return nil }
func (f *fakeStore) ListUnusedVerifiedAccounts(context.Context) ([]schemas.AccountRecord, error) {
	return nil, nil
}
func (f *fakeStore) CreateOrder(context.Context, int64, string) (int64, error) { return 0, nil }
func (f *fakeStore) MarkOrderComplete(context.Context, int64, string) error    { return nil }
func (f *fakeStore) AddCard(context.Context, schemas.PaymentCard) (int64, error) {
	return 0, nil
}
func (f *fakeStore) ListCards(context.Context) ([]schemas.PaymentCard, error) { return nil, nil }
func (f *fakeStore) GetDefaultCard(context.Context) (schemas.PaymentCard, error) {
	return schemas.PaymentCard{}, nil
}
func (f *fakeStore) SetDefaultCard(context.Context, int64) error { return nil }
func (f *fakeStore) DeleteCard(context.Context, int64) error     { return nil }

// recordingNotifier captures progress updates.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []string
}

func (n *recordingNotifier) Progress(current, total int, identity, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, fmt.Sprintf("%d/%d %s %s", current, total, identity, status))
}

func newPipeline(t *testing.T, api schemas.RegistrationAPI, solver schemas.CaptchaSolver, store schemas.Store) *Pipeline {
	t.Helper()
	p, err := New(api, solver, store, time.Millisecond, 12, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestRunAllSucceed(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{}
	p := newPipeline(t, api, &fakeSolver{text: "a7xk9"}, store)

	report, err := p.Run(context.Background(), []string{"a@example.com", "b@example.com"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Requested)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, api.registered)

	for _, r := range report.Results {
		assert.True(t, r.Succeeded())
		assert.NotEmpty(t, r.Password)
		assert.NotZero(t, r.AccountID)
	}
}

func TestRunSkipsKnownAccounts(t *testing.T) {
	api := &fakeAPI{}
	store := &fakeStore{accounts: []schemas.AccountRecord{{ID: 1, Email: "A@example.com"}}}
	p := newPipeline(t, api, &fakeSolver{text: "a7xk9"}, store)

	report, err := p.Run(context.Background(), []string{"a@example.com", "b@example.com"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.com"}, report.Skipped)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"b@example.com"}, api.registered)
}

func TestRunChallengeFailureIsolatedPerItem(t *testing.T) {
	api := &fakeAPI{challengeErr: errors.New("blocked")}
	p := newPipeline(t, api, &fakeSolver{text: "a7xk9"}, &fakeStore{})

	report, err := p.Run(context.Background(), []string{"a@example.com", "b@example.com"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	for _, r := range report.Results {
		assert.Equal(t, "challenge unavailable", r.Detail)
	}
}

func TestRunRecognitionFailureDetail(t *testing.T) {
	solver := &fakeSolver{err: fmt.Errorf("%w: too short", captcha.ErrRecognitionFailed)}
	p := newPipeline(t, &fakeAPI{}, solver, &fakeStore{})

	report, err := p.Run(context.Background(), []string{"a@example.com"}, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "recognition failed", report.Results[0].Detail)
}

func TestRunOneRejectionDoesNotAbortBatch(t *testing.T) {
	api := &fakeAPI{registerErr: map[string]error{"bad@example.com": errors.New("email rejected")}}
	p := newPipeline(t, api, &fakeSolver{text: "a7xk9"}, &fakeStore{})

	report, err := p.Run(context.Background(), []string{"bad@example.com", "good@example.com"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"good@example.com"}, api.registered)
}

func TestRunPersistFailureSurfacesPassword(t *testing.T) {
	store := &fakeStore{addErr: errors.New("db down")}
	p := newPipeline(t, &fakeAPI{}, &fakeSolver{text: "a7xk9"}, store)

	report, err := p.Run(context.Background(), []string{"a@example.com"}, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.False(t, r.Succeeded())
	assert.Contains(t, r.Detail, "not persisted")
	assert.NotEmpty(t, r.Password, "the operator must be able to recover the remote password")
}

func TestRunCancelledReturnsPartialReport(t *testing.T) {
	api := &fakeAPI{}
	// A long cooldown so the second item is still waiting when we cancel.
	p, err := New(api, &fakeSolver{text: "a7xk9"}, &fakeStore{}, time.Hour, 12, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	report, runErr := p.Run(ctx, []string{"a@example.com", "b@example.com"}, nil)
	require.Error(t, runErr)
	require.NotNil(t, report, "a partial report must survive cancellation")
	assert.Equal(t, 1, report.Succeeded)
	assert.Len(t, report.Results, 1)
}

func TestRunNotifierPanicsAreContained(t *testing.T) {
	p := newPipeline(t, &fakeAPI{}, &fakeSolver{text: "a7xk9"}, &fakeStore{})

	report, err := p.Run(context.Background(), []string{"a@example.com"}, panickyNotifier{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
}

type panickyNotifier struct{}

func (panickyNotifier) Progress(int, int, string, string) { panic("notifier exploded") }

func TestRunNotifierReceivesProgress(t *testing.T) {
	n := &recordingNotifier{}
	p := newPipeline(t, &fakeAPI{}, &fakeSolver{text: "a7xk9"}, &fakeStore{})

	_, err := p.Run(context.Background(), []string{"a@example.com"}, n)
	require.NoError(t, err)

	require.Len(t, n.updates, 2)
	assert.Equal(t, "1/1 a@example.com processing", n.updates[0])
	assert.Equal(t, "1/1 a@example.com succeeded", n.updates[1])
}
