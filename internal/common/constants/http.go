package constants

// HeaderAgentID carries the calling agent's identity on worker-facing
// endpoints.
const HeaderAgentID = "X-Agent-ID"

// HeaderIdempotencyKey lets task creation callers suppress duplicate
// submissions across retries.
const HeaderIdempotencyKey = "X-Idempotency-Key"
