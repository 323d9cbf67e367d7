package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/dhannusch/pincer/manifest"
)

// Audit event types for the proposal lifecycle.
const (
	EventProposalSubmitted = "proposal_submitted"
	EventProposalApproved  = "proposal_approved"
	EventProposalRejected  = "proposal_rejected"
)

// RegistryIndex is the singleton blob naming every pending proposal and every
// active (adapterId, revision) pair. It is the single source of truth for
// which manifest snapshots are live.
type RegistryIndex struct {
	Proposals []ProposalSummary      `json:"proposals"`
	Active    map[string]ActiveEntry `json:"active"`
}

// ProposalSummary is the index-resident view of a pending proposal.
type ProposalSummary struct {
	ProposalID  string `json:"proposalId"`
	AdapterID   string `json:"adapterId"`
	Revision    int64  `json:"revision"`
	SubmittedAt string `json:"submittedAt"`
	SubmittedBy string `json:"submittedBy"`
}

// ActiveEntry points the index at one activated manifest snapshot.
type ActiveEntry struct {
	Revision  int64  `json:"revision"`
	Enabled   bool   `json:"enabled"`
	UpdatedAt string `json:"updatedAt"`
}

// ProposalRecord is the full stored proposal, manifest included.
type ProposalRecord struct {
	ProposalID  string            `json:"proposalId"`
	AdapterID   string            `json:"adapterId"`
	Revision    int64             `json:"revision"`
	SubmittedAt string            `json:"submittedAt"`
	SubmittedBy string            `json:"submittedBy"`
	Manifest    manifest.Manifest `json:"manifest"`
}

// AuditEvent records one proposal lifecycle transition. Events are keyed by
// occurredAt so a prefix scan yields time order.
type AuditEvent struct {
	EventID    string            `json:"eventId"`
	EventType  string            `json:"eventType"`
	OccurredAt string            `json:"occurredAt"`
	ProposalID string            `json:"proposalId"`
	AdapterID  string            `json:"adapterId"`
	Revision   int64             `json:"revision"`
	Actor      string            `json:"actor"`
	Reason     string            `json:"reason,omitempty"`
	Manifest   manifest.Manifest `json:"manifest"`
}

// RegistryIndex reads the index blob, returning an empty index when none has
// been written yet.
func (s *Store) RegistryIndex(_ context.Context) (*RegistryIndex, error) {
	idx := &RegistryIndex{Active: map[string]ActiveEntry{}}
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(registryBucket).Get(registryIndexKey)
		if len(enc) == 0 {
			return nil
		}
		return json.Unmarshal(enc, idx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not read registry index")
	}
	if idx.Active == nil {
		idx.Active = map[string]ActiveEntry{}
	}
	return idx, nil
}

// SaveRegistryIndex writes the index as a single serialized blob.
func (s *Store) SaveRegistryIndex(_ context.Context, idx *RegistryIndex) error {
	enc, err := json.Marshal(idx)
	if err != nil {
		return errors.Wrap(err, "could not encode registry index")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(registryBucket).Put(registryIndexKey, enc)
	})
}

// Proposal retrieves a stored proposal record, or nil when absent.
func (s *Store) Proposal(_ context.Context, proposalID string) (*ProposalRecord, error) {
	var rec *ProposalRecord
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(proposalsBucket).Get([]byte(proposalID))
		if len(enc) == 0 {
			return nil
		}
		rec = &ProposalRecord{}
		return json.Unmarshal(enc, rec)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read proposal %s", proposalID)
	}
	return rec, nil
}

// SaveProposal persists a proposal record under its id.
func (s *Store) SaveProposal(_ context.Context, rec *ProposalRecord) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "could not encode proposal record")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(proposalsBucket).Put([]byte(rec.ProposalID), enc)
	})
}

// DeleteProposal removes a proposal record.
func (s *Store) DeleteProposal(_ context.Context, proposalID string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(proposalsBucket).Delete([]byte(proposalID))
	})
}

func manifestSnapshotKey(adapterID string, revision int64) []byte {
	return []byte(fmt.Sprintf("%s:%d", adapterID, revision))
}

// ManifestSnapshot retrieves the immutable snapshot for (adapterId, revision),
// or nil when absent.
func (s *Store) ManifestSnapshot(_ context.Context, adapterID string, revision int64) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(manifestsBucket).Get(manifestSnapshotKey(adapterID, revision))
		if len(enc) == 0 {
			return nil
		}
		m = &manifest.Manifest{}
		return json.Unmarshal(enc, m)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read manifest snapshot %s:%d", adapterID, revision)
	}
	return m, nil
}

// SaveManifestSnapshot writes the snapshot for (adapterId, revision).
// Snapshots are written once: a second write for the same key must carry
// identical canonical content or it is rejected.
func (s *Store) SaveManifestSnapshot(_ context.Context, m *manifest.Manifest) error {
	enc, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "could not encode manifest snapshot")
	}
	canonical, err := manifest.StableStringify(m)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(manifestsBucket)
		key := manifestSnapshotKey(m.ID, m.Revision)
		if existing := bkt.Get(key); len(existing) != 0 {
			var stored manifest.Manifest
			if err := json.Unmarshal(existing, &stored); err != nil {
				return errors.Wrap(err, "could not decode stored snapshot")
			}
			storedCanonical, err := manifest.StableStringify(&stored)
			if err != nil {
				return err
			}
			if storedCanonical != canonical {
				return errors.Errorf("snapshot %s:%d already exists with different content", m.ID, m.Revision)
			}
			return nil
		}
		return bkt.Put(key, enc)
	})
}

func auditEventKey(ev *AuditEvent) []byte {
	return []byte(fmt.Sprintf("%s:%s", ev.OccurredAt, ev.EventID))
}

// SaveAuditEvent appends an audit event keyed by its occurredAt timestamp.
func (s *Store) SaveAuditEvent(_ context.Context, ev *AuditEvent) error {
	enc, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "could not encode audit event")
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(auditBucket).Put(auditEventKey(ev), enc)
	})
}

// AuditEvents lists events newest-first. since filters by string comparison
// on the ISO-8601 occurredAt; limit truncates the result. Corrupt entries are
// skipped rather than failing the whole listing.
func (s *Store) AuditEvents(_ context.Context, since string, limit int) ([]*AuditEvent, error) {
	var events []*AuditEvent
	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if since != "" && bytes.Compare(k, []byte(since)) <= 0 {
				break
			}
			ev := &AuditEvent{}
			if err := json.Unmarshal(v, ev); err != nil {
				log.WithField("key", string(k)).Warn("Skipping corrupt audit event")
				continue
			}
			if since != "" && ev.OccurredAt <= since {
				continue
			}
			events = append(events, ev)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
