package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	stdtime "time"

	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/manifest"
	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
)

type fakeSource struct {
	man    *manifest.Manifest
	action *manifest.Action
}

func (f *fakeSource) AdapterAction(_ context.Context, _, actionName string) (*manifest.Manifest, *manifest.Action, error) {
	if f.man == nil || actionName != "list_channel_videos" {
		return nil, nil, nil
	}
	return f.man, f.action, nil
}

type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, binding string) (string, error) {
	return f[binding], nil
}

func int64p(v int64) *int64       { return &v }
func float64p(v float64) *float64 { return &v }

func queryAction() *manifest.Action {
	return &manifest.Action{
		Method:      "GET",
		Path:        "/youtube/v3/search",
		RequestMode: manifest.RequestModeQuery,
		Auth: manifest.AuthSpec{
			Placement:     manifest.PlacementQuery,
			Name:          "key",
			SecretBinding: "YOUTUBE_API_KEY",
		},
		Limits: manifest.Limits{MaxBodyKb: 8, TimeoutMs: 10000, RatePerMinute: 90},
		InputSchema: &manifest.InputSchema{
			Type:     "object",
			Required: []string{"channelId"},
			Properties: map[string]manifest.Property{
				"channelId":  {Type: manifest.TypeString, MinLength: int64p(1), MaxLength: int64p(128)},
				"maxResults": {Type: manifest.TypeInteger, Minimum: float64p(1), Maximum: float64p(50)},
			},
		},
	}
}

// upstream wires a TLS test server into a proxy whose manifest allows exactly
// that server's host.
func upstream(t *testing.T, action *manifest.Action, handler http.HandlerFunc) *Proxy {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	man := &manifest.Manifest{
		ID:           "youtube",
		Revision:     1,
		BaseURL:      ts.URL,
		AllowedHosts: []string{u.Host},
		Actions:      map[string]manifest.Action{"list_channel_videos": *action},
	}
	return New(
		&fakeSource{man: man, action: action},
		fakeResolver{"YOUTUBE_API_KEY": "AIza-test-secret"},
		WithHTTPClient(ts.Client()),
	)
}

func TestExecuteQueryModeInterpolation(t *testing.T) {
	var seen url.Values
	p := upstream(t, queryAction(), func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query()
		assert.Equal(t, "/youtube/v3/search", r.URL.Path)
		w.Header().Set("content-type", "application/json")
		_, err := w.Write([]byte(`{"items":[{"id":"vid1"}]}`))
		assert.NoError(t, err)
	})

	body := []byte(`{"input":{"channelId":"UC123","maxResults":10}}`)
	res, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", body)
	require.NoError(t, err)

	assert.Equal(t, "AIza-test-secret", seen.Get("key"))
	assert.Equal(t, "UC123", seen.Get("channelId"))
	assert.Equal(t, "10", seen.Get("maxResults"))

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, true, res.Body["ok"])
	assert.Equal(t, "youtube", res.Body["adapter"])
	assert.Equal(t, "list_channel_videos", res.Body["action"])
	data, ok := res.Body["data"].(map[string]interface{})
	require.Equal(t, true, ok)
	require.NotNil(t, data["items"])
}

func TestExecuteJSONModeWithHeaderAuth(t *testing.T) {
	action := queryAction()
	action.Method = "POST"
	action.RequestMode = manifest.RequestModeJSON
	action.Auth = manifest.AuthSpec{
		Placement:     manifest.PlacementHeader,
		Name:          "authorization",
		Prefix:        "Bearer ",
		SecretBinding: "YOUTUBE_API_KEY",
	}

	p := upstream(t, action, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer AIza-test-secret", r.Header.Get("authorization"))
		assert.Equal(t, "application/json", r.Header.Get("content-type"))
		var payload map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "UC123", payload["channelId"])
		// Query carries no credential in header placement.
		assert.Equal(t, "", r.URL.Query().Get("key"))
		w.Header().Set("content-type", "application/json")
		_, err := w.Write([]byte(`{"ok":true}`))
		assert.NoError(t, err)
	})

	body := []byte(`{"input":{"channelId":"UC123"}}`)
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", body)
	require.NoError(t, err)
}

func TestExecuteUnknownAction(t *testing.T) {
	p := New(&fakeSource{}, fakeResolver{})
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{}}`))
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindActionNotAllowed, e.Kind)
	assert.Equal(t, http.StatusForbidden, e.Status)
}

func TestExecuteInputEnvelopeShape(t *testing.T) {
	p := upstream(t, queryAction(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, body := range []string{`not json`, `{}`, `{"input":"scalar"}`, `{"input":null}`} {
		_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(body))
		require.NotNil(t, err, "body %q should be rejected", body)
		assert.Equal(t, errs.KindInvalidInputShape, errs.As(err).Kind)
	}
}

func TestExecuteSchemaViolations(t *testing.T) {
	p := upstream(t, queryAction(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{"maxResults":99}}`))
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindInvalidInput, e.Kind)
	violations, ok := e.Details["details"].([]string)
	require.Equal(t, true, ok)
	assert.Equal(t, 2, len(violations))
}

func TestExecuteBodyTooLarge(t *testing.T) {
	action := queryAction()
	action.Limits.MaxBodyKb = 1
	p := upstream(t, action, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	padding := strings.Repeat("x", 1024)
	body := []byte(`{"input":{"channelId":"` + padding + `"}}`)
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", body)
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindBodyTooLarge, e.Kind)
	assert.Equal(t, http.StatusRequestEntityTooLarge, e.Status)
}

func TestExecuteRateLimited(t *testing.T) {
	action := queryAction()
	action.Limits.RatePerMinute = 2
	p := upstream(t, action, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, err := w.Write([]byte(`{}`))
		assert.NoError(t, err)
	})

	body := []byte(`{"input":{"channelId":"UC123"}}`)
	for i := 0; i < 2; i++ {
		_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", body)
		require.NoError(t, err)
	}
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", body)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindRateLimited, errs.As(err).Kind)
}

func TestExecuteMissingSecret(t *testing.T) {
	action := queryAction()
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	man := &manifest.Manifest{
		ID:           "youtube",
		Revision:     1,
		BaseURL:      ts.URL,
		AllowedHosts: []string{u.Host},
	}
	p := New(&fakeSource{man: man, action: action}, fakeResolver{}, WithHTTPClient(ts.Client()))

	_, err = p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{"channelId":"UC123"}}`))
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindMissingSecret, e.Kind)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
}

func TestExecuteHostRecheck(t *testing.T) {
	action := queryAction()
	man := &manifest.Manifest{
		ID:           "youtube",
		Revision:     1,
		BaseURL:      "https://youtube.googleapis.com",
		AllowedHosts: []string{"other.example"},
	}
	p := New(&fakeSource{man: man, action: action}, fakeResolver{"YOUTUBE_API_KEY": "s"})

	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{"channelId":"UC123"}}`))
	require.NotNil(t, err)
	assert.Equal(t, errs.KindHostNotAllowed, errs.As(err).Kind)
}

func TestExecuteUpstreamFailure(t *testing.T) {
	p := upstream(t, queryAction(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{"channelId":"UC123"}}`))
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindUpstreamError, e.Kind)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, http.StatusInternalServerError, e.Details["upstreamStatus"])
}

func TestExecuteUpstreamTimeout(t *testing.T) {
	action := queryAction()
	action.Limits.TimeoutMs = 50
	p := upstream(t, action, func(w http.ResponseWriter, _ *http.Request) {
		stdtime.Sleep(300 * stdtime.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	_, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{"channelId":"UC123"}}`))
	require.NotNil(t, err)
	assert.Equal(t, errs.KindUpstreamError, errs.As(err).Kind)
}

func TestExecuteNonJSONResponseWrapped(t *testing.T) {
	p := upstream(t, queryAction(), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("content-type", "text/plain")
		_, err := w.Write([]byte("plain payload"))
		assert.NoError(t, err)
	})
	res, err := p.Execute(context.Background(), "rk_a", "youtube", "list_channel_videos", []byte(`{"input":{"channelId":"UC123"}}`))
	require.NoError(t, err)
	assert.Equal(t, "plain payload", res.Body["data"])
}
