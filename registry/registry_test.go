package registry_test

import (
	"context"
	"strings"
	"testing"
	stdtime "time"

	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/registry"
	"github.com/dhannusch/pincer/testing/assert"
	"github.com/dhannusch/pincer/testing/require"
	"github.com/dhannusch/pincer/testing/util"
)

type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, binding string) (string, error) {
	return f[binding], nil
}

// tickingClock advances one second per call so audit keys never collide.
type tickingClock struct {
	t stdtime.Time
}

func (c *tickingClock) now() stdtime.Time {
	c.t = c.t.Add(stdtime.Second)
	return c.t
}

func setupRegistry(t *testing.T, secrets fakeResolver) *registry.Registry {
	t.Helper()
	db, err := kv.NewKVStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	if secrets == nil {
		secrets = fakeResolver{"YOUTUBE_API_KEY": "AIza-test"}
	}
	reg, err := registry.New(db, secrets)
	require.NoError(t, err)
	clock := &tickingClock{t: stdtime.Unix(1_700_000_000, 0).UTC()}
	return reg.WithClock(clock.now)
}

func TestSubmitProposalAndApprove(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	summary, err := reg.SubmitProposal(ctx, util.VideoManifestRaw(t), "runtime:rk_abc")
	require.NoError(t, err)
	assert.Equal(t, "youtube", summary.AdapterID)
	assert.Equal(t, int64(1), summary.Revision)
	assert.Equal(t, "runtime:rk_abc", summary.SubmittedBy)
	assert.Equal(t, true, strings.HasPrefix(summary.ProposalID, "pr_"))

	pending, err := reg.Proposals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(pending))

	res, err := reg.Apply(ctx, registry.ApplyRequest{ProposalID: summary.ProposalID, Actor: "admin:root"})
	require.NoError(t, err)
	assert.Equal(t, "youtube", res.AdapterID)
	assert.Equal(t, registry.OutcomeNewInstall, res.Outcome)

	pending, err = reg.Proposals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(pending))

	// Both lifecycle events reference the same proposal id.
	events, err := reg.AuditEvents(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, 2, len(events))
	assert.Equal(t, kv.EventProposalApproved, events[0].EventType)
	assert.Equal(t, kv.EventProposalSubmitted, events[1].EventType)
	assert.Equal(t, summary.ProposalID, events[0].ProposalID)
	assert.Equal(t, summary.ProposalID, events[1].ProposalID)
	assert.Equal(t, "admin:root", events[0].Actor)
}

func TestSubmitProposalRejectsInvalidManifest(t *testing.T) {
	reg := setupRegistry(t, nil)
	_, err := reg.SubmitProposal(context.Background(), []byte(`{"id":"x"}`), "runtime:rk_abc")
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindInvalidManifest, e.Kind)
	require.NotNil(t, e.Details["details"])
}

func TestApplyRequiresExactlyOneSource(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Apply(ctx, registry.ApplyRequest{})
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidPayload, errs.As(err).Kind)

	_, err = reg.Apply(ctx, registry.ApplyRequest{ProposalID: "pr_x", ManifestRaw: util.VideoManifestRaw(t)})
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidPayload, errs.As(err).Kind)
}

func TestApplyRevisionStateMachine(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	res, err := reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestWith(t, map[string]interface{}{"revision": 2}), Actor: "admin:root"})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeNewInstall, res.Outcome)

	// Lower revision than active is rejected with both revisions in details.
	_, err = reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestRaw(t), Actor: "admin:root"})
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindRevisionOutdated, e.Kind)
	assert.Equal(t, int64(2), e.Details["activeRevision"])
	assert.Equal(t, int64(1), e.Details["submittedRevision"])

	// Same revision with different content conflicts.
	altered := util.VideoManifestWith(t, map[string]interface{}{
		"revision":     2,
		"allowedHosts": []string{"youtube.googleapis.com", "www.googleapis.com"},
	})
	_, err = reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: altered, Actor: "admin:root"})
	require.NotNil(t, err)
	assert.Equal(t, errs.KindRevisionConflict, errs.As(err).Kind)

	// Same revision with identical content is an idempotent in-place update.
	res, err = reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestWith(t, map[string]interface{}{"revision": 2}), Actor: "admin:root"})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeInPlaceUpdate, res.Outcome)

	// Higher revision replaces the active one.
	res, err = reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestWith(t, map[string]interface{}{"revision": 3}), Actor: "admin:root"})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeInPlaceUpdate, res.Outcome)
}

func TestApplyReEnableOutcome(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestRaw(t), Actor: "admin:root"})
	require.NoError(t, err)
	_, err = reg.SetEnabled(ctx, "youtube", false)
	require.NoError(t, err)

	res, err := reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestRaw(t), Actor: "admin:root"})
	require.NoError(t, err)
	assert.Equal(t, registry.OutcomeReEnable, res.Outcome)

	adapters, err := reg.ActiveAdapters(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(adapters))
	assert.Equal(t, true, adapters[0].Enabled)
}

func TestApplyMissingRequiredSecrets(t *testing.T) {
	reg := setupRegistry(t, fakeResolver{})
	ctx := context.Background()

	raw := util.VideoManifestWith(t, map[string]interface{}{
		"requiredSecrets": []string{"ZEBRA_KEY", "ALPHA_KEY"},
		"actions": map[string]interface{}{
			"list_channel_videos": map[string]interface{}{
				"method":      "GET",
				"path":        "/youtube/v3/search",
				"requestMode": "query",
				"auth": map[string]interface{}{
					"placement":     "query",
					"name":          "key",
					"secretBinding": "ALPHA_KEY",
				},
				"limits": map[string]interface{}{
					"maxBodyKb":     8,
					"timeoutMs":     10000,
					"ratePerMinute": 90,
				},
			},
		},
	})
	_, err := reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: raw, Actor: "admin:root"})
	require.NotNil(t, err)
	e := errs.As(err)
	assert.Equal(t, errs.KindMissingRequiredSecrets, e.Kind)
	assert.DeepEqual(t, []string{"ALPHA_KEY", "ZEBRA_KEY"}, e.Details["missingSecrets"])
}

func TestRejectProposal(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	summary, err := reg.SubmitProposal(ctx, util.VideoManifestRaw(t), "runtime:rk_abc")
	require.NoError(t, err)

	res, err := reg.RejectProposal(ctx, summary.ProposalID, "  unsafe hosts  ")
	require.NoError(t, err)
	assert.Equal(t, summary.ProposalID, res.ProposalID)
	assert.Equal(t, "rejected", res.Status)

	pending, err := reg.Proposals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(pending))

	_, err = reg.ProposalByID(ctx, summary.ProposalID)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindProposalNotFound, errs.As(err).Kind)

	events, err := reg.AuditEvents(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, 2, len(events))
	assert.Equal(t, kv.EventProposalRejected, events[0].EventType)
	assert.Equal(t, "unsafe hosts", events[0].Reason)
}

func TestRejectProposalValidation(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.RejectProposal(ctx, "pr_missing", "nope")
	require.NotNil(t, err)
	assert.Equal(t, errs.KindProposalNotFound, errs.As(err).Kind)

	summary, err := reg.SubmitProposal(ctx, util.VideoManifestRaw(t), "runtime:rk_abc")
	require.NoError(t, err)
	_, err = reg.RejectProposal(ctx, summary.ProposalID, strings.Repeat("x", 501))
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidReason, errs.As(err).Kind)
}

func TestSetEnabledUnknownAdapter(t *testing.T) {
	reg := setupRegistry(t, nil)
	_, err := reg.SetEnabled(context.Background(), "ghost", true)
	require.NotNil(t, err)
	assert.Equal(t, errs.KindAdapterNotFound, errs.As(err).Kind)
}

func TestEnabledAdaptersListing(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestRaw(t), Actor: "admin:root"})
	require.NoError(t, err)

	listings, err := reg.EnabledAdapters(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, len(listings))
	assert.Equal(t, "youtube", listings[0].AdapterID)
	assert.DeepEqual(t, []string{"list_channel_videos"}, listings[0].ActionNames)

	_, err = reg.SetEnabled(ctx, "youtube", false)
	require.NoError(t, err)
	listings, err = reg.EnabledAdapters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(listings))
}

func TestAdapterActionCacheInvalidation(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	m, action, err := reg.AdapterAction(ctx, "youtube", "list_channel_videos")
	require.NoError(t, err)
	require.Equal(t, true, m == nil && action == nil)

	_, err = reg.Apply(ctx, registry.ApplyRequest{ManifestRaw: util.VideoManifestRaw(t), Actor: "admin:root"})
	require.NoError(t, err)

	m, action, err = reg.AdapterAction(ctx, "youtube", "list_channel_videos")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NotNil(t, action)
	assert.Equal(t, "GET", action.Method)

	// Unknown actions resolve to nil without error.
	m, action, err = reg.AdapterAction(ctx, "youtube", "delete_everything")
	require.NoError(t, err)
	require.Equal(t, true, m == nil && action == nil)

	// Disabling invalidates the cached entry immediately.
	_, err = reg.SetEnabled(ctx, "youtube", false)
	require.NoError(t, err)
	m, action, err = reg.AdapterAction(ctx, "youtube", "list_channel_videos")
	require.NoError(t, err)
	require.Equal(t, true, m == nil && action == nil)
}

func TestAuditEventsQueryValidation(t *testing.T) {
	reg := setupRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.AuditEvents(ctx, "", "0")
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidLimit, errs.As(err).Kind)

	_, err = reg.AuditEvents(ctx, "", "abc")
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidLimit, errs.As(err).Kind)

	_, err = reg.AuditEvents(ctx, "yesterday", "")
	require.NotNil(t, err)
	assert.Equal(t, errs.KindInvalidSince, errs.As(err).Kind)

	events, err := reg.AuditEvents(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, len(events))
}
