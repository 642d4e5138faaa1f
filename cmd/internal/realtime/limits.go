package realtime

import "time"

// Security/performance limits.
// These are contract limits: inputs exceeding them are rejected before any mutation.
const (
	// Max bytes per inbound websocket frame (hard limit).
	maxFrameBytes = 1 << 20 // 1 MiB

	// Max length of session/element/peer ids.
	maxIDLen = 64

	// Max bytes of SDP carried by a signaling message.
	maxSDPBytes = 64 << 10 // 64 KiB

	// Max bytes of a single ICE candidate.
	maxCandidateBytes = 2 << 10 // 2 KiB

	// Max bytes of element text content.
	maxContentBytes = 1 << 20 // 1 MiB

	// Ceiling for elements in one session document (exclusive: documents
	// never reach this count).
	maxElementsPerSession = 10_000
)

const (
	// Heartbeat defaults (overridable through GatewayConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Token-bucket defaults: burst capacity and sustained refill rate.
	rateLimitBurst  = 20.0
	rateLimitPerSec = 10.0

	// Offline queue bound (oldest dropped first on overflow).
	defaultQueueMax = 1000

	// Per-subscriber broadcast buffer before lag accounting kicks in.
	broadcastBufSize = 64
)
