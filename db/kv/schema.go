package kv

// Bucket names mirror the key families of the persisted layout:
//
//	meta:version                              -> metaBucket
//	runtime:active                            -> runtimeBucket
//	vault:secret:<binding>                    -> vaultBucket
//	adapter_registry:index                    -> registryBucket
//	adapter_registry:proposal:<proposalId>    -> proposalsBucket
//	adapter_registry:manifest:<id>:<revision> -> manifestsBucket
//	audit:proposal:<occurredAt>:<eventId>     -> auditBucket
//	pairing:<CODE>                            -> pairingBucket
//	admin:user:primary                        -> adminUsersBucket
//	admin:session:<sessionId>                 -> sessionsBucket
//	admin:login:<username>:<clientId>         -> loginStateBucket
var (
	metaBucket       = []byte("meta")
	runtimeBucket    = []byte("runtime")
	vaultBucket      = []byte("vault-secrets")
	registryBucket   = []byte("adapter-registry")
	proposalsBucket  = []byte("adapter-proposals")
	manifestsBucket  = []byte("adapter-manifests")
	auditBucket      = []byte("audit-proposals")
	pairingBucket    = []byte("pairing-codes")
	adminUsersBucket = []byte("admin-users")
	sessionsBucket   = []byte("admin-sessions")
	loginStateBucket = []byte("admin-login-state")
)

var (
	versionKey       = []byte("version")
	runtimeKey       = []byte("active")
	registryIndexKey = []byte("index")
	adminPrimaryKey  = []byte("primary")
)
