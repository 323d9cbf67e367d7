// Package params defines the tunable parameters of the worker boundary with
// their production defaults. Components read the active config through
// BoundaryConfig; tests swap it with OverrideBoundaryConfig.
package params

import "time"

// Config holds every boundary-wide constant that is not a secret.
type Config struct {
	ServiceName string

	// Signed-request verification.
	DefaultSkewSeconds int64

	// Default vault binding names for the runtime credential pair. A runtime
	// record missing a binding field falls back to these.
	DefaultHmacSecretBinding string
	DefaultKeySecretBinding  string

	// Admin account and sessions.
	PasswordMinLength  int
	Pbkdf2Iterations   int
	Pbkdf2KeyLength    int
	SessionAbsoluteTTL time.Duration
	SessionIdleTTL     time.Duration
	SessionRotateAfter time.Duration

	// Login lockout.
	LockoutThreshold int
	LockoutBaseDelay time.Duration
	LockoutMaxDelay  time.Duration

	// Pairing.
	PairingTTL time.Duration

	// Adapter registry.
	RegistryCacheTTL  time.Duration
	RegistryCacheSize int
	AuditDefaultLimit int
	AuditMaxLimit     int
	MaxReasonLength   int

	// Egress proxy.
	RateBucketEviction time.Duration
}

var boundaryConfig = defaultBoundaryConfig()

func defaultBoundaryConfig() *Config {
	return &Config{
		ServiceName:              "pincer",
		DefaultSkewSeconds:       60,
		DefaultHmacSecretBinding: "PINCER_HMAC_SECRET_ACTIVE",
		DefaultKeySecretBinding:  "PINCER_RUNTIME_KEY_SECRET_ACTIVE",
		PasswordMinLength:        12,
		Pbkdf2Iterations:         120000,
		Pbkdf2KeyLength:          32,
		SessionAbsoluteTTL:       8 * time.Hour,
		SessionIdleTTL:           30 * time.Minute,
		SessionRotateAfter:       15 * time.Minute,
		LockoutThreshold:         5,
		LockoutBaseDelay:         30 * time.Second,
		LockoutMaxDelay:          15 * time.Minute,
		PairingTTL:               15 * time.Minute,
		RegistryCacheTTL:         10 * time.Second,
		RegistryCacheSize:        128,
		AuditDefaultLimit:        50,
		AuditMaxLimit:            200,
		MaxReasonLength:          500,
		RateBucketEviction:       2 * time.Minute,
	}
}

// BoundaryConfig retrieves the active boundary config.
func BoundaryConfig() *Config {
	return boundaryConfig
}

// OverrideBoundaryConfig replaces the active config. Intended for tests.
func OverrideBoundaryConfig(c *Config) {
	boundaryConfig = c
}

// Copy returns a copy of the config safe to mutate.
func (c *Config) Copy() *Config {
	dup := *c
	return &dup
}
