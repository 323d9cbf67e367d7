// Package manifest defines the adapter manifest document and its validation.
// Validation is a pure function shared by proposal submission, activation and
// CLI pre-flight: the same manifest must validate identically everywhere.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Request construction modes.
const (
	RequestModeQuery = "query"
	RequestModeJSON  = "json"
)

// Credential placements.
const (
	PlacementHeader = "header"
	PlacementQuery  = "query"
)

var (
	adapterIDPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)
	actionNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_!]{1,63}$`)
	secretNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,127}$`)
)

// Manifest is an immutable adapter definition, content-addressed by
// (ID, Revision) once activated.
type Manifest struct {
	ID              string            `json:"id"`
	Revision        int64             `json:"revision"`
	BaseURL         string            `json:"baseUrl"`
	AllowedHosts    []string          `json:"allowedHosts"`
	RequiredSecrets []string          `json:"requiredSecrets"`
	Actions         map[string]Action `json:"actions"`
}

// Action describes one operation inside an adapter.
type Action struct {
	Method      string       `json:"method"`
	Path        string       `json:"path"`
	RequestMode string       `json:"requestMode"`
	Auth        AuthSpec     `json:"auth"`
	Limits      Limits       `json:"limits"`
	InputSchema *InputSchema `json:"inputSchema,omitempty"`
}

// AuthSpec declares where the provider credential is placed on the upstream
// request.
type AuthSpec struct {
	Placement     string `json:"placement"`
	Name          string `json:"name"`
	SecretBinding string `json:"secretBinding"`
	Prefix        string `json:"prefix,omitempty"`
}

// Limits bound a single action's resource usage.
type Limits struct {
	MaxBodyKb     int64 `json:"maxBodyKb"`
	TimeoutMs     int64 `json:"timeoutMs"`
	RatePerMinute int64 `json:"ratePerMinute"`
}

// Result is the outcome of validating a raw manifest document.
type Result struct {
	OK       bool
	Manifest *Manifest
	Errors   []string
}

// Validate parses and validates a raw manifest document. It returns either a
// fully validated manifest or the complete list of violations found.
func Validate(raw json.RawMessage) Result {
	var m Manifest
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if err := dec.Decode(&m); err != nil {
		return Result{Errors: []string{fmt.Sprintf("manifest is not a valid JSON object: %v", err)}}
	}
	errs := validate(&m)
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{OK: true, Manifest: &m}
}

// ValidateManifest validates an already-decoded manifest.
func ValidateManifest(m *Manifest) Result {
	errs := validate(m)
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return Result{OK: true, Manifest: m}
}

func validate(m *Manifest) []string {
	var errs []string
	if !adapterIDPattern.MatchString(m.ID) {
		errs = append(errs, fmt.Sprintf("id %q does not match %s", m.ID, adapterIDPattern.String()))
	}
	if m.Revision < 1 {
		errs = append(errs, "revision must be a positive integer")
	}

	base, baseErrs := validateBaseURL(m.BaseURL)
	errs = append(errs, baseErrs...)

	allowed := map[string]bool{}
	for _, h := range m.AllowedHosts {
		if h == "" || h != strings.ToLower(h) {
			errs = append(errs, fmt.Sprintf("allowed host %q must be a non-empty lowercase host[:port]", h))
			continue
		}
		if strings.Contains(h, "*") {
			errs = append(errs, fmt.Sprintf("allowed host %q must not contain wildcards", h))
			continue
		}
		allowed[h] = true
	}
	if len(allowed) == 0 {
		errs = append(errs, "allowedHosts must contain at least one host")
	}
	if base != nil && !allowed[strings.ToLower(base.Host)] {
		errs = append(errs, fmt.Sprintf("allowedHosts must include the baseUrl host %q", strings.ToLower(base.Host)))
	}

	required := map[string]bool{}
	for _, s := range m.RequiredSecrets {
		if !secretNamePattern.MatchString(s) {
			errs = append(errs, fmt.Sprintf("required secret %q does not match %s", s, secretNamePattern.String()))
			continue
		}
		required[s] = true
	}

	if len(m.Actions) == 0 {
		errs = append(errs, "actions must contain at least one action")
	}
	for name, action := range m.Actions {
		errs = append(errs, validateAction(name, action, base, allowed, required)...)
	}
	return errs
}

func validateBaseURL(raw string) (*url.URL, []string) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, []string{fmt.Sprintf("baseUrl %q is not a valid URL", raw)}
	}
	if u.Scheme != "https" {
		return nil, []string{fmt.Sprintf("baseUrl %q must use https", raw)}
	}
	if u.Host == "" {
		return nil, []string{fmt.Sprintf("baseUrl %q must include a host", raw)}
	}
	return u, nil
}

func validateAction(name string, action Action, base *url.URL, allowed, required map[string]bool) []string {
	var errs []string
	prefix := fmt.Sprintf("action %q: ", name)
	if !actionNamePattern.MatchString(name) {
		errs = append(errs, fmt.Sprintf("action name %q does not match %s", name, actionNamePattern.String()))
	}
	if action.Method != "GET" && action.Method != "POST" {
		errs = append(errs, prefix+"method must be GET or POST")
	}
	if action.RequestMode != RequestModeQuery && action.RequestMode != RequestModeJSON {
		errs = append(errs, prefix+"requestMode must be query or json")
	}

	if base != nil {
		resolved, err := ResolveURL(base, action.Path)
		if err != nil {
			errs = append(errs, prefix+err.Error())
		} else {
			if resolved.Scheme != "https" {
				errs = append(errs, prefix+"resolved URL must use https")
			}
			if !allowed[strings.ToLower(resolved.Host)] {
				errs = append(errs, prefix+fmt.Sprintf("resolved host %q not in allowedHosts", strings.ToLower(resolved.Host)))
			}
		}
	}

	switch action.Auth.Placement {
	case PlacementHeader, PlacementQuery:
	default:
		errs = append(errs, prefix+"auth.placement must be header or query")
	}
	if action.Auth.Name == "" {
		errs = append(errs, prefix+"auth.name must be non-empty")
	}
	if !required[action.Auth.SecretBinding] {
		errs = append(errs, prefix+fmt.Sprintf("auth.secretBinding %q not declared in requiredSecrets", action.Auth.SecretBinding))
	}

	if action.Limits.MaxBodyKb <= 0 || action.Limits.MaxBodyKb > 1024 {
		errs = append(errs, prefix+"limits.maxBodyKb must be in (0, 1024]")
	}
	if action.Limits.TimeoutMs <= 0 || action.Limits.TimeoutMs > 120000 {
		errs = append(errs, prefix+"limits.timeoutMs must be in (0, 120000]")
	}
	if action.Limits.RatePerMinute <= 0 || action.Limits.RatePerMinute > 100000 {
		errs = append(errs, prefix+"limits.ratePerMinute must be in (0, 100000]")
	}

	if action.InputSchema != nil {
		errs = append(errs, action.InputSchema.validateSchema(prefix)...)
	}
	return errs
}

// ResolveURL resolves an action path against the manifest base URL, matching
// browser URL-constructor semantics: an absolute path replaces the base path,
// a full URL replaces the base entirely.
func ResolveURL(base *url.URL, path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("path %q is not a valid URL reference", path)
	}
	return base.ResolveReference(ref), nil
}
