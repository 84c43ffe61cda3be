package common

// SignatureHeaderName carries the signed delivery token on inbound job
// deliveries, both over HTTP and as a NATS message header.
const SignatureHeaderName = "Upstash-Signature"

// SyncPath is the callback path the delivery channel posts single jobs to.
const SyncPath = "/api/v1/internal/sync-to-db"

// BatchSyncPath accepts a JSON array of job envelopes.
const BatchSyncPath = "/api/v1/internal/batch-sync"

// HealthPath reports liveness of the server and its dependencies.
const HealthPath = "/api/v1/internal/health"

// InternalPrefix groups the routes authenticated by delivery signature
// rather than the API token.
const InternalPrefix = "/api/v1/internal/"
