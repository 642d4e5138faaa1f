package bridge

import (
	"context"
	"log/slog"
	"time"

	"slate/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	v1 "slate/shared/contracts/scene/v1"
)

var (
	metricPushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_bridge_push_failures_total",
		Help: "Document pushes abandoned after exhausting retries.",
	})

	metricPullFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slate_bridge_pull_failures_total",
		Help: "Document pulls abandoned after exhausting retries.",
	})
)

const defaultPullInterval = 30 * time.Second

// Config bounds the bridge's steady-state behavior.
type Config struct {
	Policy       RetryPolicy
	PullInterval time.Duration
}

// Bridge mirrors locally-originated mutations to the upstream service (push)
// and reconciles remote documents back on an interval (pull).
//
// It also implements realtime.CallControl; installing it flips the gateway
// into managed signaling mode.
type Bridge struct {
	log   *slog.Logger
	up    Upstream
	reg   *realtime.SessionRegistry
	queue *realtime.OfflineQueue

	health       *Health
	policy       RetryPolicy
	pullInterval time.Duration
}

// New constructs a bridge over an activated upstream.
func New(log *slog.Logger, up Upstream, reg *realtime.SessionRegistry, cfg Config) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	policy := cfg.Policy
	if policy.Initial <= 0 {
		policy = DefaultPolicy()
	}
	interval := cfg.PullInterval
	if interval <= 0 {
		interval = defaultPullInterval
	}

	return &Bridge{
		log:          log,
		up:           up,
		reg:          reg,
		queue:        realtime.NewOfflineQueue(0),
		health:       NewHealth(),
		policy:       policy,
		pullInterval: interval,
	}
}

// Health exposes the connection-health snapshot; it never blocks on bridge work.
func (b *Bridge) Health() Status {
	return b.health.Snapshot()
}

// Queue exposes the pending-operation buffer (observability and tests).
func (b *Bridge) Queue() *realtime.OfflineQueue {
	return b.queue
}

// RunPush consumes the registry mutation feed and mirrors each resulting
// document upstream. Remote-originated mutations are skipped so pull results
// never echo back out. Returns when ctx is cancelled or the feed closes.
func (b *Bridge) RunPush(ctx context.Context) {
	ch := b.reg.Watch()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if m.Remote {
				continue
			}
			if m.Op != nil {
				b.queue.Enqueue(*m.Op)
			}
			b.push(ctx, m.SessionID, m.Doc)
		}
	}
}

// push transmits the latest document, covering every operation pending in
// the queue. Transport failures back off and eventually requeue; protocol
// rejections are surfaced and never retried.
func (b *Bridge) push(ctx context.Context, sessionID string, doc v1.Document) {
	pending := b.queue.TakePending()

	for attempt := 0; ; attempt++ {
		err := b.up.PushDocument(ctx, sessionID, doc)
		if err == nil {
			b.health.Connected()
			b.queue.MarkSynced(len(pending), time.Now().UTC())
			return
		}

		if !Retryable(err) {
			b.log.Warn("bridge.push.rejected", "session_id", sessionID, "err", err)
			metricPushFailures.Inc()
			return
		}

		next := attempt + 1
		b.health.Reconnecting(next, err.Error())

		if b.policy.Exhausted(next) {
			b.log.Warn("bridge.push.exhausted", "session_id", sessionID, "attempts", next, "err", err)
			b.queue.Requeue(pending)
			b.health.Disconnected(err.Error())
			metricPushFailures.Inc()
			return
		}

		b.log.Info("bridge.push.retry", "session_id", sessionID, "attempt", next, "err", err)
		if Sleep(ctx, b.policy.Delay(attempt)) != nil {
			b.queue.Requeue(pending)
			return
		}
	}
}

// RunPull reconciles each tracked session from upstream on a fixed interval.
// A remote document is applied only when its timestamp is strictly greater
// than the local one. Returns when ctx is cancelled.
func (b *Bridge) RunPull(ctx context.Context) {
	for {
		if Sleep(ctx, b.pullInterval) != nil {
			return
		}
		for _, sessionID := range b.reg.SessionIDs() {
			if ctx.Err() != nil {
				return
			}
			b.pull(ctx, sessionID)
		}
	}
}

func (b *Bridge) pull(ctx context.Context, sessionID string) {
	for attempt := 0; ; attempt++ {
		remote, err := b.up.FetchDocument(ctx, sessionID)
		if err == nil {
			b.health.Connected()

			local := b.reg.Document(sessionID)
			if realtime.Resolve(local, remote, realtime.LastWriteWins) == realtime.KeepRemote {
				b.reg.ApplyRemote(sessionID, remote)
				b.log.Info("bridge.pull.applied", "session_id", sessionID, "remote_ts", remote.Timestamp)
			}
			return
		}

		if !Retryable(err) {
			b.log.Warn("bridge.pull.rejected", "session_id", sessionID, "err", err)
			metricPullFailures.Inc()
			return
		}

		next := attempt + 1
		b.health.Reconnecting(next, err.Error())

		if b.policy.Exhausted(next) {
			b.log.Warn("bridge.pull.exhausted", "session_id", sessionID, "attempts", next, "err", err)
			b.health.Disconnected(err.Error())
			metricPullFailures.Inc()
			return
		}

		if Sleep(ctx, b.policy.Delay(attempt)) != nil {
			return
		}
	}
}

// ---- realtime.CallControl ----

// StartCall delegates call creation upstream. Single attempt: the result is
// surfaced to the originating peer, who decides whether to try again.
func (b *Bridge) StartCall(ctx context.Context, sessionID, entityID string, video bool) (string, error) {
	callID, err := b.up.StartCall(ctx, sessionID, entityID, video)
	if err == nil {
		b.health.Connected()
	}
	return callID, err
}

// JoinCall delegates participant addition upstream.
func (b *Bridge) JoinCall(ctx context.Context, callID, peerID string) error {
	err := b.up.JoinCall(ctx, callID, peerID)
	if err == nil {
		b.health.Connected()
	}
	return err
}

// LeaveCall delegates participant removal upstream.
func (b *Bridge) LeaveCall(ctx context.Context, callID, peerID string) error {
	err := b.up.LeaveCall(ctx, callID, peerID)
	if err == nil {
		b.health.Connected()
	}
	return err
}
