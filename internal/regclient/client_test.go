package regclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/config"
	"github.com/xkilldash9x/checkout-cli/internal/fingerprint"
)

// fakeDoer serves canned responses and records the requests it saw.
type fakeDoer struct {
	status int
	body   string
	err    error

	requests []*http.Request
	bodies   []string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(raw))
	} else {
		f.bodies = append(f.bodies, "")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     make(http.Header),
	}, nil
}

func testConfig() config.RegistrationConfig {
	return config.RegistrationConfig{
		ChallengeURL: "https://example.test/get_captcha_code",
		RegisterURL:  "https://example.test/register",
		InviteCode:   "INV123",
	}
}

func newTestClient(t *testing.T, doer *fakeDoer) *Client {
	t.Helper()
	c, err := New(doer, testConfig(), zap.NewNop())
	require.NoError(t, err)
	// Pin the session context so header assertions are deterministic.
	c.newSession = func() fingerprint.SessionContext {
		return fingerprint.SessionContext{
			DeviceID:    "device-123",
			Fingerprint: "fp-abc",
			Descriptor:  fingerprint.DefaultDescriptor(),
		}
	}
	return c
}

func TestFetchChallengeSuccess(t *testing.T) {
	doer := &fakeDoer{
		status: http.StatusOK,
		body:   `{"code":200,"msg":"ok","data":{"captcha_id":"cap-9","captcha_data":"aW1n"}}`,
	}
	c := newTestClient(t, doer)

	ch, err := c.FetchChallenge(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "cap-9", ch.ID)
	assert.Equal(t, "aW1n", ch.ImageData)
	assert.Equal(t, "device-123", ch.CookieID)
	assert.Equal(t, "fp-abc", ch.Fingerprint)

	req := doer.requests[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "device-123", req.Header.Get("cookie-id"))
	assert.Equal(t, "device-123", req.Header.Get("anonymous-id"))
	assert.Equal(t, "fp-abc", req.Header.Get("Fingerprint"))
}

func TestFetchChallengeApplicationError(t *testing.T) {
	doer := &fakeDoer{
		status: http.StatusOK,
		body:   `{"code":4001,"msg":"too many requests","data":{}}`,
	}
	c := newTestClient(t, doer)

	_, err := c.FetchChallenge(context.Background())
	require.Error(t, err)

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 4001, appErr.Code)
	assert.Equal(t, "too many requests", appErr.Message)
}

func TestFetchChallengeTransportError(t *testing.T) {
	tests := []struct {
		name string
		doer *fakeDoer
	}{
		{"network failure", &fakeDoer{err: errors.New("connection refused")}},
		{"http 500", &fakeDoer{status: http.StatusInternalServerError, body: "oops"}},
		{"garbage body", &fakeDoer{status: http.StatusOK, body: "<html>block page</html>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.doer)
			_, err := c.FetchChallenge(context.Background())
			require.Error(t, err)

			var trErr *TransportError
			assert.ErrorAs(t, err, &trErr)
		})
	}
}

func TestRegisterSuccess(t *testing.T) {
	doer := &fakeDoer{
		status: http.StatusOK,
		body:   `{"code":200,"msg":"ok","data":{"user_id":7741}}`,
	}
	c := newTestClient(t, doer)

	ch := &schemas.Challenge{
		ID:          "cap-9",
		CookieID:    "challenge-device",
		Fingerprint: "challenge-fp",
	}
	id, err := c.Register(context.Background(), "user@example.com", "S3cret!pw", ch, "a7xk9")
	require.NoError(t, err)
	assert.Equal(t, int64(7741), id)

	// The registration call must present the identifiers the challenge was
	// issued under, not a fresh session.
	req := doer.requests[0]
	assert.Equal(t, "challenge-device", req.Header.Get("cookie-id"))
	assert.Equal(t, "challenge-fp", req.Header.Get("Fingerprint"))

	var payload map[string]any
	require.NoError(t, jsoniter.Unmarshal([]byte(doer.bodies[0]), &payload))
	assert.Equal(t, "user@example.com", payload["username"])
	assert.Equal(t, "S3cret!pw", payload["password"])
	assert.Equal(t, "cap-9", payload["captcha_id"])
	assert.Equal(t, "a7xk9", payload["captcha_code"])
	assert.Equal(t, "INV123", payload["invitation_code"])
	assert.Equal(t, "cnfans", payload["site"])
}

func TestRegisterRejectedByApplication(t *testing.T) {
	doer := &fakeDoer{
		status: http.StatusOK,
		body:   `{"code":4005,"msg":"captcha mismatch","data":{}}`,
	}
	c := newTestClient(t, doer)

	_, err := c.Register(context.Background(), "user@example.com", "pw", &schemas.Challenge{ID: "cap"}, "wrong")
	require.Error(t, err)

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Error(), "captcha mismatch")
}

func TestRegisterNilChallenge(t *testing.T) {
	c := newTestClient(t, &fakeDoer{})
	_, err := c.Register(context.Background(), "user@example.com", "pw", nil, "text")
	assert.Error(t, err)
}
