// Package iface exists as a separate package to break circular dependencies
// between components consuming the database and the kv implementation.
package iface

import (
	"context"
	"io"

	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/manifest"
)

// Database is the full persistence surface of the boundary.
type Database interface {
	io.Closer
	DatabasePath() string
	ClearDB() error
	Version() (string, error)

	// Runtime credential record.
	RuntimeKey(ctx context.Context) (*kv.RuntimeKeyRecord, error)
	SaveRuntimeKey(ctx context.Context, rec *kv.RuntimeKeyRecord) error

	// Vault.
	VaultSecret(ctx context.Context, binding string) (*kv.VaultSecretRecord, error)
	SaveVaultSecret(ctx context.Context, binding string, rec *kv.VaultSecretRecord) error
	DeleteVaultSecret(ctx context.Context, binding string) error
	VaultBindings(ctx context.Context) ([]string, error)

	// Adapter registry.
	RegistryIndex(ctx context.Context) (*kv.RegistryIndex, error)
	SaveRegistryIndex(ctx context.Context, idx *kv.RegistryIndex) error
	Proposal(ctx context.Context, proposalID string) (*kv.ProposalRecord, error)
	SaveProposal(ctx context.Context, rec *kv.ProposalRecord) error
	DeleteProposal(ctx context.Context, proposalID string) error
	ManifestSnapshot(ctx context.Context, adapterID string, revision int64) (*manifest.Manifest, error)
	SaveManifestSnapshot(ctx context.Context, m *manifest.Manifest) error
	SaveAuditEvent(ctx context.Context, ev *kv.AuditEvent) error
	AuditEvents(ctx context.Context, since string, limit int) ([]*kv.AuditEvent, error)

	// Admin account, sessions and lockout.
	AdminUser(ctx context.Context) (*kv.AdminUser, error)
	SaveAdminUser(ctx context.Context, user *kv.AdminUser, ifAbsent bool) error
	Session(ctx context.Context, sessionID string) (*kv.Session, error)
	SaveSession(ctx context.Context, sess *kv.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	LoginState(ctx context.Context, username, clientID string) (*kv.LoginState, error)
	SaveLoginState(ctx context.Context, username, clientID string, state *kv.LoginState) error
	DeleteLoginState(ctx context.Context, username, clientID string) error

	// Pairing.
	SavePairing(ctx context.Context, code string, rec *kv.PairingRecord) error
	ConsumePairing(ctx context.Context, code string, nowMs int64) (*kv.PairingRecord, error)
}
