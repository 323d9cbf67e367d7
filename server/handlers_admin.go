package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dhannusch/pincer/admin"
	"github.com/dhannusch/pincer/crypto/hash"
	cryptorand "github.com/dhannusch/pincer/crypto/rand"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/monitoring/metrics"
	"github.com/dhannusch/pincer/registry"
	pincerTime "github.com/dhannusch/pincer/time"
)

func (s *Service) handleBootstrapStatus(w http.ResponseWriter, r *http.Request) {
	needs, err := s.cfg.Admin.NeedsBootstrap(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"needsBootstrap": needs,
	})
}

func (s *Service) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object"))
		return
	}
	username, err := s.cfg.Admin.Bootstrap(r.Context(), req.Token, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"username": username,
	})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object"))
		return
	}
	sess, err := s.cfg.Admin.Login(r.Context(), req.Username, req.Password, admin.ClientID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, sessionCookie(sess))
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Admin.Logout(r.Context(), sessionIDFromRequest(r)); err != nil {
		log.WithError(err).Warn("Could not delete session on logout")
	}
	http.SetCookie(w, expiredSessionCookie())
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Service) handleSessionMe(w http.ResponseWriter, r *http.Request) {
	sess, rotated, err := s.cfg.Admin.Authenticate(r.Context(), sessionIDFromRequest(r), "", false)
	if err != nil {
		if errs.As(err).Status == http.StatusUnauthorized {
			http.SetCookie(w, expiredSessionCookie())
		}
		writeError(w, err)
		return
	}
	if rotated {
		http.SetCookie(w, sessionCookie(sess))
	}
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func sessionView(sess *kv.Session) map[string]interface{} {
	return map[string]interface{}{
		"ok":            true,
		"username":      sess.Username,
		"csrfToken":     sess.CsrfToken,
		"expiresAt":     sess.AbsoluteExpiry,
		"idleExpiresAt": sess.IdleExpiry,
	}
}

type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// handleDoctor reports readiness: schema version, admin account, runtime
// credential record, and both runtime secret bindings.
func (s *Service) handleDoctor(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	ctx := r.Context()
	var checks []doctorCheck

	if _, err := s.cfg.Database.Version(); err != nil {
		checks = append(checks, doctorCheck{Name: "database", Detail: errs.Sanitize(err.Error())})
	} else {
		checks = append(checks, doctorCheck{Name: "database", OK: true})
	}

	user, err := s.cfg.Database.AdminUser(ctx)
	checks = append(checks, doctorCheck{Name: "adminAccount", OK: err == nil && user != nil})

	rec, err := s.cfg.Database.RuntimeKey(ctx)
	checks = append(checks, doctorCheck{Name: "runtimeRecord", OK: err == nil && rec != nil})
	if rec != nil {
		hmacSecret, err := s.cfg.Vault.Resolve(ctx, rec.HmacBinding())
		checks = append(checks, doctorCheck{Name: "hmacSecret", OK: err == nil && hmacSecret != ""})
		keySecret, err := s.cfg.Vault.Resolve(ctx, rec.KeyBinding())
		checks = append(checks, doctorCheck{Name: "runtimeKeySecret", OK: err == nil && keySecret != ""})
	} else {
		checks = append(checks, doctorCheck{Name: "hmacSecret"}, doctorCheck{Name: "runtimeKeySecret"})
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     ok,
		"checks": checks,
	})
}

func (s *Service) handleMetrics(w http.ResponseWriter, _ *http.Request, _ *kv.Session) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"metrics": metrics.Snapshot(),
	})
}

func (s *Service) handleSecretsMetadata(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	ctx := r.Context()
	var hints []string
	rec, err := s.cfg.Database.RuntimeKey(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec != nil {
		hints = append(hints, rec.HmacBinding(), rec.KeyBinding())
	}
	meta, err := s.cfg.Vault.Metadata(ctx, hints)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"secrets": meta,
	})
}

func (s *Service) handlePutSecret(w http.ResponseWriter, r *http.Request, sess *kv.Session) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object"))
		return
	}
	binding := mux.Vars(r)["binding"]
	if err := s.cfg.Vault.Put(r.Context(), binding, req.Value, "admin:"+sess.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "binding": binding})
}

func (s *Service) handleDeleteSecret(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	binding := mux.Vars(r)["binding"]
	if err := s.cfg.Vault.Delete(r.Context(), binding); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "binding": binding})
}

// handleRotateRuntimeKey mints a fresh runtime key pair and HMAC secret,
// writes both plaintexts to the vault, and rewrites the runtime record. The
// secrets themselves only leave the boundary through a pairing code.
func (s *Service) handleRotateRuntimeKey(w http.ResponseWriter, r *http.Request, sess *kv.Session) {
	ctx := r.Context()
	existing, err := s.cfg.Database.RuntimeKey(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	keySuffix, err := cryptorand.HexToken(8)
	if err != nil {
		writeError(w, err)
		return
	}
	keySecret, err := cryptorand.HexToken(24)
	if err != nil {
		writeError(w, err)
		return
	}
	hmacSecret, err := cryptorand.HexToken(32)
	if err != nil {
		writeError(w, err)
		return
	}

	rec := &kv.RuntimeKeyRecord{
		ID:        "rk_" + keySuffix,
		KeyHash:   hash.Sha256Hex([]byte(keySecret)),
		UpdatedAt: pincerTime.ISO8601(pincerTime.Now()),
	}
	if existing != nil {
		rec.HmacSecretBinding = existing.HmacSecretBinding
		rec.KeySecretBinding = existing.KeySecretBinding
		rec.SkewSeconds = existing.SkewSeconds
	}

	actor := "admin:" + sess.Username
	if err := s.cfg.Vault.Put(ctx, rec.KeyBinding(), keySecret, actor); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Vault.Put(ctx, rec.HmacBinding(), hmacSecret, actor); err != nil {
		writeError(w, err)
		return
	}
	if err := s.cfg.Database.SaveRuntimeKey(ctx, rec); err != nil {
		writeError(w, err)
		return
	}
	log.WithField("keyId", rec.ID).Info("Runtime credentials rotated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"keyId":     rec.ID,
		"updatedAt": rec.UpdatedAt,
	})
}

func (s *Service) handleGeneratePairing(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	var req struct {
		WorkerURL string `json:"workerUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object"))
		return
	}

	ctx := r.Context()
	rec, err := s.cfg.Database.RuntimeKey(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeError(w, errs.New(errs.KindMissingRuntimeConfig, http.StatusInternalServerError))
		return
	}
	keySecret, err := s.cfg.Vault.Resolve(ctx, rec.KeyBinding())
	if err != nil {
		writeError(w, err)
		return
	}
	hmacSecret, err := s.cfg.Vault.Resolve(ctx, rec.HmacBinding())
	if err != nil {
		writeError(w, err)
		return
	}
	if keySecret == "" || hmacSecret == "" {
		writeError(w, errs.New(errs.KindMissingSecret, http.StatusInternalServerError))
		return
	}

	code, ttlSeconds, err := s.cfg.Pairing.Create(ctx, req.WorkerURL, rec.ID+"."+keySecret, hmacSecret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":               true,
		"code":             code,
		"expiresInSeconds": ttlSeconds,
	})
}

func (s *Service) handleActiveAdapters(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	adapters, err := s.cfg.Registry.ActiveAdapters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"adapters": adapters,
	})
}

func (s *Service) handleAdminProposals(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	proposals, err := s.cfg.Registry.Proposals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"proposals": proposals,
	})
}

func (s *Service) handleAdminProposal(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	rec, err := s.cfg.Registry.ProposalByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"proposal": rec,
	})
}

func (s *Service) handleRejectProposal(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object"))
		return
	}
	result, err := s.cfg.Registry.RejectProposal(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"proposalId": result.ProposalID,
		"status":     result.Status,
		"rejectedAt": result.RejectedAt,
	})
}

func (s *Service) handleApply(w http.ResponseWriter, r *http.Request, sess *kv.Session) {
	var req struct {
		ProposalID string          `json:"proposalId"`
		Manifest   json.RawMessage `json:"manifest"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object"))
		return
	}
	result, err := s.cfg.Registry.Apply(r.Context(), registry.ApplyRequest{
		ProposalID:  req.ProposalID,
		ManifestRaw: req.Manifest,
		Actor:       "admin:" + sess.Username,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"adapterId": result.AdapterID,
		"revision":  result.Revision,
		"outcome":   result.Outcome,
	})
}

func (s *Service) handleEnableAdapter(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	s.setAdapterEnabled(w, r, true)
}

func (s *Service) handleDisableAdapter(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	s.setAdapterEnabled(w, r, false)
}

func (s *Service) setAdapterEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	adapterID := mux.Vars(r)["id"]
	entry, err := s.cfg.Registry.SetEnabled(r.Context(), adapterID, enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"adapterId": adapterID,
		"revision":  entry.Revision,
		"enabled":   entry.Enabled,
		"updatedAt": entry.UpdatedAt,
	})
}

func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request, _ *kv.Session) {
	query := r.URL.Query()
	events, err := s.cfg.Registry.AuditEvents(r.Context(), query.Get("since"), query.Get("limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"events": events,
	})
}
