// Package regclient speaks to the remote registration API: one endpoint that
// serves captcha challenges and one that creates accounts. Both are stateless
// request/response calls; every call mints its own session context so the
// remote service cannot correlate attempts across identities.
package regclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/config"
	"github.com/xkilldash9x/checkout-cli/internal/fingerprint"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// appCodeOK is the application-level success code embedded in response
// bodies. The API reports domain failures inside HTTP 200 responses, so
// transport success alone never means success.
const appCodeOK = 200

// TransportError means the remote service was unreachable or returned a
// non-success HTTP status.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ApplicationError means the remote service answered but rejected the request
// with a domain-level failure code.
type ApplicationError struct {
	Op      string
	Code    int
	Message string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("application error during %s: code %d: %s", e.Op, e.Code, e.Message)
}

// HTTPDoer is the opaque HTTP capability the client depends on.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements schemas.RegistrationAPI against the configured endpoints.
type Client struct {
	httpClient HTTPDoer
	cfg        config.RegistrationConfig
	logger     *zap.Logger

	// newSession is swappable in tests to pin session contexts.
	newSession func() fingerprint.SessionContext
}

var _ schemas.RegistrationAPI = (*Client)(nil)

// New builds a Client. A nil httpClient gets a default with a publicsuffix
// cookie jar, which the challenge endpoint needs to tie its cookie to the
// registration call.
func New(httpClient HTTPDoer, cfg config.RegistrationConfig, logger *zap.Logger) (*Client, error) {
	if httpClient == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("regclient: building cookie jar: %w", err)
		}
		httpClient = &http.Client{
			Jar:     jar,
			Timeout: cfg.RequestTimeout,
		}
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger.Named("regclient"),
		newSession: fingerprint.NewSessionContext,
	}, nil
}

// challengeResponse mirrors the challenge endpoint's body.
type challengeResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		CaptchaID   string `json:"captcha_id"`
		CaptchaData string `json:"captcha_data"`
	} `json:"data"`
}

// FetchChallenge retrieves a fresh captcha challenge under a brand new session
// context. Challenges are single use; the returned value backs exactly one
// registration attempt.
func (c *Client) FetchChallenge(ctx context.Context) (*schemas.Challenge, error) {
	sc := c.newSession()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ChallengeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("regclient: building challenge request: %w", err)
	}
	applyHeaders(req, sc)

	var body challengeResponse
	if err := c.do(req, "fetch_challenge", &body); err != nil {
		return nil, err
	}
	if body.Code != appCodeOK {
		return nil, &ApplicationError{Op: "fetch_challenge", Code: body.Code, Message: body.Msg}
	}

	c.logger.Debug("Challenge fetched.",
		zap.String("captcha_id", body.Data.CaptchaID),
		zap.Int("image_length", len(body.Data.CaptchaData)),
	)

	return &schemas.Challenge{
		ID:          body.Data.CaptchaID,
		ImageData:   body.Data.CaptchaData,
		CookieID:    sc.DeviceID,
		Fingerprint: sc.Fingerprint,
	}, nil
}

// registerPayload mirrors the registration endpoint's request body.
type registerPayload struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	CaptchaID      string `json:"captcha_id"`
	CaptchaCode    string `json:"captcha_code"`
	InvitationCode string `json:"invitation_code"`
	DeviceID       string `json:"device_id"`
	Site           string `json:"site"`
	Lang           string `json:"lang"`
}

type registerResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		UserID int64 `json:"user_id"`
	} `json:"data"`
}

// Register submits the registration payload under the challenge's session
// context. Success requires both transport success and an embedded success
// code; anything else is an ApplicationError carrying the remote message.
func (c *Client) Register(ctx context.Context, email, password string, ch *schemas.Challenge, solvedText string) (int64, error) {
	if ch == nil {
		return 0, errors.New("regclient: challenge must not be nil")
	}

	payload := registerPayload{
		Username:       email,
		Password:       password,
		CaptchaID:      ch.ID,
		CaptchaCode:    solvedText,
		InvitationCode: c.cfg.InviteCode,
		DeviceID:       "web",
		Site:           "cnfans",
		Lang:           "en",
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("regclient: encoding register payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RegisterURL, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("regclient: building register request: %w", err)
	}
	// The registration call presents the identifiers the challenge was
	// issued under, not a fresh context.
	applyHeaders(req, fingerprint.SessionContext{
		DeviceID:    ch.CookieID,
		Fingerprint: ch.Fingerprint,
		Descriptor:  fingerprint.DefaultDescriptor(),
	})

	var body registerResponse
	if err := c.do(req, "register", &body); err != nil {
		return 0, err
	}
	if body.Code != appCodeOK {
		return 0, &ApplicationError{Op: "register", Code: body.Code, Message: body.Msg}
	}

	c.logger.Info("Account registered.", zap.String("email", email))
	return body.Data.UserID, nil
}

// do executes the request and decodes the JSON body into out, classifying
// network faults and non-2xx statuses as TransportError.
func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("reading body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decoding body: %w", err)}
	}

	c.logger.Debug("API call completed.",
		zap.String("op", op),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func applyHeaders(req *http.Request, sc fingerprint.SessionContext) {
	for k, v := range sc.Headers() {
		req.Header.Set(k, v)
	}
}
