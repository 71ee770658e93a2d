// Package salesforce exports SMS conversations to Salesforce as Cases.
package salesforce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"smsrelay/internal/app/relay"
	"smsrelay/internal/domain/conversation"
	relayerrors "smsrelay/internal/errors"
	"smsrelay/internal/httpclient"
	"smsrelay/internal/logging"

	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	defaultLoginURL   = "https://login.salesforce.com"
	defaultAPIVersion = "v59.0"
	defaultTimeout    = 30 * time.Second
	maxResponseBytes  = 1 << 20
)

// Config holds Salesforce credentials. Either AccessToken with InstanceURL,
// or the username-password OAuth flow fields, must be set.
type Config struct {
	LoginURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	APIVersion    string

	AccessToken string
	InstanceURL string

	Timeout time.Duration
	Retry   relayerrors.RetryConfig
}

// session is an authenticated API endpoint.
type session struct {
	token       *oauth2.Token
	instanceURL string
}

// Client implements relay.CaseLogger over the Salesforce REST API.
type Client struct {
	cfg    Config
	oauth  *oauth2.Config
	http   *http.Client
	retry  relayerrors.RetryConfig
	logger logging.Logger

	mu      sync.Mutex
	session *session
}

// New validates cfg and returns a client. Authentication happens lazily on
// the first case.
func New(cfg Config) (*Client, error) {
	cfg.LoginURL = strings.TrimRight(strings.TrimSpace(cfg.LoginURL), "/")
	if cfg.LoginURL == "" {
		cfg.LoginURL = defaultLoginURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	static := cfg.AccessToken != "" && cfg.InstanceURL != ""
	passwordFlow := cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.Username != "" && cfg.Password != ""
	if !static && !passwordFlow {
		return nil, errors.New("salesforce: no valid authentication method configured")
	}
	retry := cfg.Retry
	if retry == (relayerrors.RetryConfig{}) {
		retry = relayerrors.DefaultRetryConfig()
	}
	c := &Client{
		cfg:    cfg,
		http:   httpclient.NewWithCircuitBreaker(cfg.Timeout, "salesforce"),
		retry:  retry,
		logger: logging.NewComponentLogger("SalesforceClient"),
	}
	if passwordFlow {
		c.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.LoginURL + "/services/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	}
	return c, nil
}

// LogConversation creates a Case holding the full transcript and returns its id.
func (c *Client) LogConversation(ctx context.Context, conv conversation.Conversation, messages []conversation.Message) (string, error) {
	payload, err := json.Marshal(newCaseRecord(conv, messages))
	if err != nil {
		return "", fmt.Errorf("salesforce: encode case: %w", err)
	}
	return relayerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (string, error) {
		sess, err := c.authenticate(ctx)
		if err != nil {
			return "", err
		}
		id, err := c.createCase(ctx, sess, payload)
		var perm *relayerrors.PermanentError
		if errors.As(err, &perm) && perm.StatusCode == http.StatusUnauthorized && c.oauth != nil {
			c.invalidate(sess)
			return "", &relayerrors.TransientError{Err: err, StatusCode: perm.StatusCode}
		}
		if err != nil {
			return "", err
		}
		c.logger.Info("Created Salesforce case %s for %s", id, conv.Phone)
		return id, nil
	})
}

func (c *Client) createCase(ctx context.Context, sess *session, payload []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/services/data/%s/sobjects/Case/", sess.instanceURL, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &relayerrors.PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	sess.token.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return "", err
	}
	if classified := relayerrors.FromHTTPStatus(resp.StatusCode, apiErrorMessage(body)); classified != nil {
		return "", classified
	}

	var created createResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", &relayerrors.PermanentError{Err: fmt.Errorf("salesforce: decode case response: %w", err)}
	}
	if !created.Success || created.ID == "" {
		return "", &relayerrors.PermanentError{Err: fmt.Errorf("salesforce: case not created: %s", created.errorText())}
	}
	return created.ID, nil
}

// authenticate returns the cached session or logs in.
func (c *Client) authenticate(ctx context.Context) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.token.Valid() {
		return c.session, nil
	}
	if c.oauth == nil {
		c.session = &session{
			token:       &oauth2.Token{AccessToken: c.cfg.AccessToken, TokenType: "Bearer"},
			instanceURL: strings.TrimRight(c.cfg.InstanceURL, "/"),
		}
		return c.session, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.oauth.PasswordCredentialsToken(ctx, c.cfg.Username, c.cfg.Password+c.cfg.SecurityToken)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil {
			return nil, relayerrors.FromHTTPStatus(retrieve.Response.StatusCode, "salesforce authentication failed: "+retrieve.ErrorCode)
		}
		return nil, fmt.Errorf("salesforce authentication failed: %w", err)
	}
	instanceURL, _ := token.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, &relayerrors.PermanentError{Err: errors.New("salesforce: token response has no instance_url")}
	}
	c.session = &session{token: token, instanceURL: strings.TrimRight(instanceURL, "/")}
	c.logger.Info("Authenticated with Salesforce at %s", c.session.instanceURL)
	return c.session, nil
}

func (c *Client) invalidate(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == sess {
		c.session = nil
	}
}

type createResponse struct {
	ID      string     `json:"id"`
	Success bool       `json:"success"`
	Errors  []apiError `json:"errors"`
}

func (r createResponse) errorText() string {
	if len(r.Errors) == 0 {
		return "unknown error"
	}
	return r.Errors[0].Message
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// apiErrorMessage extracts the first REST API error from an error body.
func apiErrorMessage(body []byte) string {
	var errs []apiError
	if err := json.Unmarshal(body, &errs); err == nil && len(errs) > 0 {
		return errs[0].ErrorCode + ": " + errs[0].Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

var _ relay.CaseLogger = (*Client)(nil)
