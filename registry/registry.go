// Package registry implements the adapter registry: manifest proposals, the
// approval state machine, immutable manifest snapshots, and the audit log of
// proposal lifecycle transitions. The registry index is the single source of
// truth for which (adapterId, revision) snapshots are live.
package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	stdtime "time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dhannusch/pincer/config/params"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/manifest"
	pincerTime "github.com/dhannusch/pincer/time"
)

var log = logrus.WithField("prefix", "registry")

// Apply outcomes.
const (
	OutcomeNewInstall    = "new_install"
	OutcomeInPlaceUpdate = "in_place_update"
	OutcomeReEnable      = "re_enable"
)

type database interface {
	RegistryIndex(ctx context.Context) (*kv.RegistryIndex, error)
	SaveRegistryIndex(ctx context.Context, idx *kv.RegistryIndex) error
	Proposal(ctx context.Context, proposalID string) (*kv.ProposalRecord, error)
	SaveProposal(ctx context.Context, rec *kv.ProposalRecord) error
	DeleteProposal(ctx context.Context, proposalID string) error
	ManifestSnapshot(ctx context.Context, adapterID string, revision int64) (*manifest.Manifest, error)
	SaveManifestSnapshot(ctx context.Context, m *manifest.Manifest) error
	SaveAuditEvent(ctx context.Context, ev *kv.AuditEvent) error
	AuditEvents(ctx context.Context, since string, limit int) ([]*kv.AuditEvent, error)
}

type secretResolver interface {
	Resolve(ctx context.Context, binding string) (string, error)
}

// Registry coordinates every adapter lifecycle operation.
type Registry struct {
	db      database
	secrets secretResolver
	cache   *readCache
	now     func() stdtime.Time
}

// New constructs a Registry with the configured read cache.
func New(db database, secrets secretResolver) (*Registry, error) {
	cfg := params.BoundaryConfig()
	cache, err := newReadCache(cfg.RegistryCacheSize, cfg.RegistryCacheTTL, pincerTime.Now)
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, secrets: secrets, cache: cache, now: pincerTime.Now}, nil
}

// WithClock overrides the registry clock. Used by tests.
func (r *Registry) WithClock(now func() stdtime.Time) *Registry {
	r.now = now
	r.cache.now = now
	return r
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SubmitProposal validates a raw manifest and stores it as a pending
// proposal.
func (r *Registry) SubmitProposal(ctx context.Context, raw json.RawMessage, submittedBy string) (*kv.ProposalSummary, error) {
	res := manifest.Validate(raw)
	if !res.OK {
		return nil, errs.New(errs.KindInvalidManifest, http.StatusBadRequest).WithDetail("details", res.Errors)
	}
	m := res.Manifest

	now := pincerTime.ISO8601(r.now())
	rec := &kv.ProposalRecord{
		ProposalID:  newID("pr_"),
		AdapterID:   m.ID,
		Revision:    m.Revision,
		SubmittedAt: now,
		SubmittedBy: submittedBy,
		Manifest:    *m,
	}
	if err := r.db.SaveProposal(ctx, rec); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}

	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	summary := kv.ProposalSummary{
		ProposalID:  rec.ProposalID,
		AdapterID:   rec.AdapterID,
		Revision:    rec.Revision,
		SubmittedAt: rec.SubmittedAt,
		SubmittedBy: rec.SubmittedBy,
	}
	idx.Proposals = append(idx.Proposals, summary)
	if err := r.db.SaveRegistryIndex(ctx, idx); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}

	r.writeAudit(ctx, kv.EventProposalSubmitted, rec, submittedBy, "")
	return &summary, nil
}

// Proposals lists pending proposal summaries in submission order.
func (r *Registry) Proposals(ctx context.Context) ([]kv.ProposalSummary, error) {
	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, err
	}
	if idx.Proposals == nil {
		return []kv.ProposalSummary{}, nil
	}
	return idx.Proposals, nil
}

// ProposalByID retrieves one full proposal record.
func (r *Registry) ProposalByID(ctx context.Context, proposalID string) (*kv.ProposalRecord, error) {
	rec, err := r.db.Proposal(ctx, proposalID)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return nil, errs.New(errs.KindProposalNotFound, http.StatusNotFound)
	}
	return rec, nil
}

// RejectResult is returned from a successful rejection.
type RejectResult struct {
	ProposalID string `json:"proposalId"`
	Status     string `json:"status"`
	RejectedAt string `json:"rejectedAt"`
}

// RejectProposal removes a pending proposal and records the rejection. The
// reason is trimmed and must not exceed the configured maximum.
func (r *Registry) RejectProposal(ctx context.Context, proposalID, reason string) (*RejectResult, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > params.BoundaryConfig().MaxReasonLength {
		return nil, errs.New(errs.KindInvalidReason, http.StatusBadRequest)
	}

	rec, err := r.ProposalByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	idx.Proposals = removeProposal(idx.Proposals, proposalID)
	if err := r.db.SaveRegistryIndex(ctx, idx); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if err := r.db.DeleteProposal(ctx, proposalID); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}

	r.writeAudit(ctx, kv.EventProposalRejected, rec, "admin", reason)
	return &RejectResult{
		ProposalID: proposalID,
		Status:     "rejected",
		RejectedAt: pincerTime.ISO8601(r.now()),
	}, nil
}

// ApplyRequest activates a manifest from exactly one of a stored proposal or
// a raw manifest document.
type ApplyRequest struct {
	ProposalID  string
	ManifestRaw json.RawMessage
	Actor       string
}

// ApplyResult reports what an apply did.
type ApplyResult struct {
	AdapterID string `json:"adapterId"`
	Revision  int64  `json:"revision"`
	Outcome   string `json:"outcome"`
}

// Apply runs the activation state machine: revision comparison against the
// active entry, required-secret resolution, snapshot write, index update, and
// proposal cleanup. The write order is snapshot, index, proposal deletion so
// a partial failure never leaves the index pointing at a missing snapshot.
func (r *Registry) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	hasProposal := req.ProposalID != ""
	hasManifest := len(req.ManifestRaw) > 0
	if hasProposal == hasManifest {
		return nil, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "exactly one of proposalId or manifest is required")
	}

	var m *manifest.Manifest
	var proposal *kv.ProposalRecord
	if hasProposal {
		rec, err := r.ProposalByID(ctx, req.ProposalID)
		if err != nil {
			return nil, err
		}
		proposal = rec
		stored := rec.Manifest
		m = &stored
	} else {
		res := manifest.Validate(req.ManifestRaw)
		if !res.OK {
			return nil, errs.New(errs.KindInvalidManifest, http.StatusBadRequest).WithDetail("details", res.Errors)
		}
		m = res.Manifest
	}

	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}

	outcome := OutcomeNewInstall
	if active, ok := idx.Active[m.ID]; ok {
		switch {
		case m.Revision < active.Revision:
			return nil, errs.New(errs.KindRevisionOutdated, http.StatusConflict).
				WithDetail("activeRevision", active.Revision).
				WithDetail("submittedRevision", m.Revision)
		case m.Revision == active.Revision:
			stored, err := r.db.ManifestSnapshot(ctx, m.ID, active.Revision)
			if err != nil {
				return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
			}
			if stored == nil {
				return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, "active entry has no snapshot")
			}
			same, err := canonicalEqual(stored, m)
			if err != nil {
				return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
			}
			if !same {
				return nil, errs.New(errs.KindRevisionConflict, http.StatusConflict).
					WithDetail("activeRevision", active.Revision).
					WithDetail("submittedRevision", m.Revision)
			}
			if active.Enabled {
				outcome = OutcomeInPlaceUpdate
			} else {
				outcome = OutcomeReEnable
			}
		default:
			outcome = OutcomeInPlaceUpdate
		}
	}

	var missing []string
	for _, binding := range m.RequiredSecrets {
		value, err := r.secrets.Resolve(ctx, binding)
		if err != nil {
			return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		if value == "" {
			missing = append(missing, binding)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errs.New(errs.KindMissingRequiredSecrets, http.StatusBadRequest).
			WithDetail("missingSecrets", missing)
	}

	if err := r.db.SaveManifestSnapshot(ctx, m); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	idx.Active[m.ID] = kv.ActiveEntry{
		Revision:  m.Revision,
		Enabled:   true,
		UpdatedAt: pincerTime.ISO8601(r.now()),
	}
	if proposal != nil {
		idx.Proposals = removeProposal(idx.Proposals, proposal.ProposalID)
	}
	if err := r.db.SaveRegistryIndex(ctx, idx); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if proposal != nil {
		if err := r.db.DeleteProposal(ctx, proposal.ProposalID); err != nil {
			return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
		}
		r.writeAudit(ctx, kv.EventProposalApproved, proposal, req.Actor, "")
	}

	r.cache.invalidate(m.ID)
	return &ApplyResult{AdapterID: m.ID, Revision: m.Revision, Outcome: outcome}, nil
}

// SetEnabled flips the enabled flag for an active adapter.
func (r *Registry) SetEnabled(ctx context.Context, adapterID string, enabled bool) (*kv.ActiveEntry, error) {
	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	entry, ok := idx.Active[adapterID]
	if !ok {
		return nil, errs.New(errs.KindAdapterNotFound, http.StatusNotFound)
	}
	entry.Enabled = enabled
	entry.UpdatedAt = pincerTime.ISO8601(r.now())
	idx.Active[adapterID] = entry
	if err := r.db.SaveRegistryIndex(ctx, idx); err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	r.cache.invalidate(adapterID)
	return &entry, nil
}

// ActiveAdapter is the admin-facing view of one active entry.
type ActiveAdapter struct {
	AdapterID string `json:"adapterId"`
	Revision  int64  `json:"revision"`
	Enabled   bool   `json:"enabled"`
	UpdatedAt string `json:"updatedAt"`
}

// ActiveAdapters lists every active entry, enabled or not, sorted by id.
func (r *Registry) ActiveAdapters(ctx context.Context) ([]ActiveAdapter, error) {
	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ActiveAdapter, 0, len(idx.Active))
	for id, entry := range idx.Active {
		out = append(out, ActiveAdapter{
			AdapterID: id,
			Revision:  entry.Revision,
			Enabled:   entry.Enabled,
			UpdatedAt: entry.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out, nil
}

// AdapterListing is the runtime-facing view of one enabled adapter.
type AdapterListing struct {
	AdapterID   string   `json:"adapterId"`
	Revision    int64    `json:"revision"`
	ActionNames []string `json:"actionNames"`
}

// EnabledAdapters lists enabled adapters with their action names.
func (r *Registry) EnabledAdapters(ctx context.Context) ([]AdapterListing, error) {
	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AdapterListing, 0, len(idx.Active))
	for id, entry := range idx.Active {
		if !entry.Enabled {
			continue
		}
		m, err := r.db.ManifestSnapshot(ctx, id, entry.Revision)
		if err != nil {
			return nil, err
		}
		if m == nil {
			log.WithField("adapter", id).Warn("Active entry has no snapshot")
			continue
		}
		names := make([]string, 0, len(m.Actions))
		for name := range m.Actions {
			names = append(names, name)
		}
		sort.Strings(names)
		out = append(out, AdapterListing{AdapterID: id, Revision: entry.Revision, ActionNames: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdapterID < out[j].AdapterID })
	return out, nil
}

// AdapterAction resolves the active, enabled manifest and action for the
// proxy hot path, served from the read cache.
func (r *Registry) AdapterAction(ctx context.Context, adapterID, actionName string) (*manifest.Manifest, *manifest.Action, error) {
	cached, ok := r.cache.get(adapterID)
	if !ok {
		loaded, err := r.cache.load(adapterID, func() (*cachedAdapter, error) {
			return r.loadAdapter(ctx, adapterID)
		})
		if err != nil {
			return nil, nil, err
		}
		cached = loaded
	}
	if !cached.present || !cached.entry.Enabled || cached.man == nil {
		return nil, nil, nil
	}
	action, ok := cached.man.Actions[actionName]
	if !ok {
		return nil, nil, nil
	}
	return cached.man, &action, nil
}

func (r *Registry) loadAdapter(ctx context.Context, adapterID string) (*cachedAdapter, error) {
	idx, err := r.db.RegistryIndex(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Active[adapterID]
	if !ok {
		return &cachedAdapter{}, nil
	}
	m, err := r.db.ManifestSnapshot(ctx, adapterID, entry.Revision)
	if err != nil {
		return nil, err
	}
	return &cachedAdapter{present: true, entry: entry, man: m}, nil
}

// AuditEvents lists audit events newest-first with since/limit filtering.
func (r *Registry) AuditEvents(ctx context.Context, sinceRaw, limitRaw string) ([]*kv.AuditEvent, error) {
	cfg := params.BoundaryConfig()
	limit := cfg.AuditDefaultLimit
	if limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed < 1 {
			return nil, errs.New(errs.KindInvalidLimit, http.StatusBadRequest)
		}
		limit = parsed
	}
	if limit > cfg.AuditMaxLimit {
		limit = cfg.AuditMaxLimit
	}
	if sinceRaw != "" {
		if _, err := pincerTime.ParseISO8601(sinceRaw); err != nil {
			return nil, errs.New(errs.KindInvalidSince, http.StatusBadRequest)
		}
	}
	events, err := r.db.AuditEvents(ctx, sinceRaw, limit)
	if err != nil {
		return nil, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error())
	}
	if events == nil {
		events = []*kv.AuditEvent{}
	}
	return events, nil
}

// writeAudit records a lifecycle event. Audit failures are logged, not
// surfaced: the primary operation already succeeded.
func (r *Registry) writeAudit(ctx context.Context, eventType string, rec *kv.ProposalRecord, actor, reason string) {
	ev := &kv.AuditEvent{
		EventID:    newID("ae_"),
		EventType:  eventType,
		OccurredAt: pincerTime.ISO8601(r.now()),
		ProposalID: rec.ProposalID,
		AdapterID:  rec.AdapterID,
		Revision:   rec.Revision,
		Actor:      actor,
		Reason:     reason,
		Manifest:   rec.Manifest,
	}
	if err := r.db.SaveAuditEvent(ctx, ev); err != nil {
		log.WithError(err).WithField("event", eventType).Warn("Could not write audit event")
	}
}

func removeProposal(proposals []kv.ProposalSummary, proposalID string) []kv.ProposalSummary {
	out := proposals[:0]
	for _, p := range proposals {
		if p.ProposalID != proposalID {
			out = append(out, p)
		}
	}
	return out
}

func canonicalEqual(a, b *manifest.Manifest) (bool, error) {
	ca, err := manifest.StableStringify(a)
	if err != nil {
		return false, err
	}
	cb, err := manifest.StableStringify(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}
