package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dhannusch/pincer/auth"
	"github.com/dhannusch/pincer/config/params"
	"github.com/dhannusch/pincer/errs"
	"github.com/dhannusch/pincer/monitoring/metrics"
	"github.com/dhannusch/pincer/runtime/version"
	pincerTime "github.com/dhannusch/pincer/time"
)

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	configVersion, err := s.cfg.Database.Version()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":            true,
		"service":       params.BoundaryConfig().ServiceName,
		"version":       version.SemanticVersion(),
		"configVersion": configVersion,
	})
}

func (s *Service) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object with a code"))
		return
	}
	rec, err := s.cfg.Pairing.Consume(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"workerUrl":  rec.WorkerURL,
		"runtimeKey": rec.RuntimeKey,
		"hmacSecret": rec.HmacSecret,
	})
}

func (s *Service) handleSubmitProposal(w http.ResponseWriter, r *http.Request, keyID string, body []byte) {
	var req struct {
		Manifest json.RawMessage `json:"manifest"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.Manifest) == 0 {
		writeError(w, errs.NewMsg(errs.KindInvalidPayload, http.StatusBadRequest, "body must be a JSON object with a manifest"))
		return
	}
	summary, err := s.cfg.Registry.SubmitProposal(r.Context(), req.Manifest, "runtime:"+keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":       true,
		"proposal": summary,
	})
}

func (s *Service) handleListAdapters(w http.ResponseWriter, r *http.Request, _ string, _ []byte) {
	adapters, err := s.cfg.Registry.EnabledAdapters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"adapters": adapters,
	})
}

// handleProxy runs authentication and the egress pipeline, emitting one
// metric sample on every path.
func (s *Service) handleProxy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	adapterID, actionName := vars["adapter"], vars["action"]
	start := pincerTime.Now()

	status := http.StatusOK
	denyReason := ""
	defer func() {
		outcome := "allowed"
		if denyReason != "" {
			if status >= http.StatusInternalServerError {
				outcome = "error"
			} else {
				outcome = "denied"
			}
		}
		metrics.RecordProxyCall(metrics.Sample{
			Adapter:     adapterID,
			Action:      actionName,
			Outcome:     outcome,
			StatusClass: statusClass(status),
			DenyReason:  denyReason,
			LatencyMs:   pincerTime.UnixMs(pincerTime.Now()) - pincerTime.UnixMs(start),
		})
	}()

	fail := func(err error) {
		be := errs.As(err)
		status = be.Status
		denyReason = be.Kind
		writeError(w, be)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		fail(errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error()))
		return
	}
	keyID, err := s.cfg.Verifier.Verify(r.Context(), r.Method, r.URL.Path, body, auth.HeadersFromRequest(r))
	if err != nil {
		fail(err)
		return
	}
	res, err := s.cfg.Proxy.Execute(r.Context(), keyID, adapterID, actionName, body)
	if err != nil {
		fail(err)
		return
	}
	status = res.Status
	writeJSON(w, res.Status, res.Body)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
