// Package proxy constructs and issues the outbound upstream call for one
// runtime request: action lookup, input validation, rate limiting, credential
// interpolation, post-interpolation host re-check, timeout enforcement, and
// response shaping.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	stdtime "time"

	"github.com/sirupsen/logrus"

	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/manifest"
	pincerTime "github.com/dhannusch/pincer/time"
)

var log = logrus.WithField("prefix", "proxy")

type actionSource interface {
	AdapterAction(ctx context.Context, adapterID, actionName string) (*manifest.Manifest, *manifest.Action, error)
}

type secretResolver interface {
	Resolve(ctx context.Context, binding string) (string, error)
}

// Proxy executes manifest-constrained outbound calls.
type Proxy struct {
	registry actionSource
	secrets  secretResolver
	limiter  *Limiter
	client   *http.Client
	now      func() stdtime.Time
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithHTTPClient overrides the outbound client. Used by tests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Proxy) { p.client = client }
}

// WithClock overrides the proxy clock. Used by tests.
func WithClock(now func() stdtime.Time) Option {
	return func(p *Proxy) { p.now = now }
}

// New constructs a Proxy. The client carries no global timeout; each call is
// bounded by its action's timeoutMs through the request context.
func New(registry actionSource, secrets secretResolver, opts ...Option) *Proxy {
	p := &Proxy{
		registry: registry,
		secrets:  secrets,
		limiter:  NewLimiter(),
		client:   &http.Client{},
		now:      pincerTime.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is a successful proxy execution.
type Result struct {
	Status int
	Body   map[string]interface{}
}

// Execute runs the proxy pipeline for an already-authenticated runtime call.
// Failures are returned as boundary errors carrying the stable deny reasons.
func (p *Proxy) Execute(ctx context.Context, keyID, adapterID, actionName string, rawBody []byte) (*Result, error) {
	man, action, err := p.registry.AdapterAction(ctx, adapterID, actionName)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if man == nil || action == nil {
		return nil, errs.New(errs.KindActionNotAllowed, http.StatusForbidden)
	}

	input, err := parseInput(rawBody)
	if err != nil {
		return nil, err
	}
	if violations := action.InputSchema.ValidateInput(input); len(violations) > 0 {
		return nil, errs.New(errs.KindInvalidInput, http.StatusBadRequest).WithDetail("details", violations)
	}
	if int64(len(rawBody)) > action.Limits.MaxBodyKb*1024 {
		return nil, errs.New(errs.KindBodyTooLarge, http.StatusRequestEntityTooLarge)
	}
	if !p.limiter.Allow(keyID, adapterID, actionName, pincerTime.UnixMs(p.now()), action.Limits.RatePerMinute) {
		return nil, errs.New(errs.KindRateLimited, http.StatusTooManyRequests)
	}

	req, err := p.buildUpstreamRequest(ctx, man, action, input)
	if err != nil {
		return nil, err
	}
	return p.issue(ctx, adapterID, actionName, action, req)
}

func parseInput(rawBody []byte) (map[string]interface{}, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, errs.New(errs.KindInvalidInputShape, http.StatusBadRequest)
	}
	rawInput, ok := envelope["input"]
	if !ok {
		return nil, errs.New(errs.KindInvalidInputShape, http.StatusBadRequest)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(rawInput, &input); err != nil || input == nil {
		return nil, errs.New(errs.KindInvalidInputShape, http.StatusBadRequest)
	}
	return input, nil
}

func (p *Proxy) buildUpstreamRequest(ctx context.Context, man *manifest.Manifest, action *manifest.Action, input map[string]interface{}) (*http.Request, error) {
	base, err := url.Parse(man.BaseURL)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	target, err := manifest.ResolveURL(base, action.Path)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}

	secret, err := p.secrets.Resolve(ctx, action.Auth.SecretBinding)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if secret == "" {
		return nil, errs.New(errs.KindMissingSecret, http.StatusInternalServerError)
	}

	query := target.Query()
	var body io.Reader
	contentType := ""
	switch action.RequestMode {
	case manifest.RequestModeJSON:
		encoded, err := json.Marshal(input)
		if err != nil {
			return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		body = strings.NewReader(string(encoded))
		contentType = "application/json"
	default:
		for key, value := range input {
			if value == nil {
				continue
			}
			query.Set(key, queryValue(value))
		}
	}

	if action.Auth.Placement == manifest.PlacementQuery {
		query.Set(action.Auth.Name, secret)
	}
	target.RawQuery = query.Encode()

	if target.Scheme != "https" || !allowedHost(man, target.Host) {
		return nil, errs.New(errs.KindHostNotAllowed, http.StatusForbidden)
	}

	req, err := http.NewRequestWithContext(ctx, action.Method, target.String(), body)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	if action.Auth.Placement == manifest.PlacementHeader {
		req.Header.Set(action.Auth.Name, action.Auth.Prefix+secret)
	}
	return req, nil
}

func allowedHost(man *manifest.Manifest, host string) bool {
	lowered := strings.ToLower(host)
	for _, h := range man.AllowedHosts {
		if h == lowered {
			return true
		}
	}
	return false
}

func queryValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}

func (p *Proxy) issue(ctx context.Context, adapterID, actionName string, action *manifest.Action, req *http.Request) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, stdtime.Duration(action.Limits.TimeoutMs)*stdtime.Millisecond)
	defer cancel()

	resp, err := p.client.Do(req.WithContext(callCtx))
	if err != nil {
		// Timeouts and transport failures both surface as upstream errors;
		// upstream calls are never retried because they may be non-idempotent.
		return nil, errs.NewMsg(errs.KindUpstreamError, http.StatusBadGateway, err.Error())
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Debug("Could not close upstream body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.New(errs.KindUpstreamError, http.StatusBadGateway).
			WithDetail("upstreamStatus", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewMsg(errs.KindUpstreamError, http.StatusBadGateway, err.Error())
	}

	var data interface{}
	if strings.Contains(resp.Header.Get("content-type"), "application/json") {
		if err := json.Unmarshal(payload, &data); err != nil {
			data = string(payload)
		}
	} else {
		data = string(payload)
	}
	return &Result{
		Status: http.StatusOK,
		Body: map[string]interface{}{
			"ok":      true,
			"adapter": adapterID,
			"action":  actionName,
			"data":    data,
		},
	}, nil
}
