package snapshot

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/logging"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

// SubscribedTopics are the topics folded into the state snapshot.
var SubscribedTopics = []string{
	message.TopicIssueOpened,
	message.TopicPlanReady,
	message.TopicWorkerProgress,
	message.TopicImplementationReady,
	message.TopicValidationResult,
	message.TopicInvestigationComplete,
}

// Snapshotter subscribes to state-affecting topics on one cluster's bus
// and republishes STATE_SNAPSHOT whenever the derived content changes.
type Snapshotter struct {
	bus       *bus.MessageBus
	clusterID string
	logger    logging.Logger

	mu        sync.Mutex
	state     State
	lastHash  [32]byte
	haveHash  bool
	unsub     bus.Unsubscribe
}

// New builds a Snapshotter bound to bus for one cluster.
func New(b *bus.MessageBus, clusterID string, logger logging.Logger) *Snapshotter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Snapshotter{bus: b, clusterID: clusterID, logger: logger}
}

// Start bootstraps state (from an existing snapshot or by replaying the
// most recent message per subscribed topic) and then subscribes for
// subsequent events.
func (s *Snapshotter) Start(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	s.unsub = s.bus.SubscribeTopics(SubscribedTopics, func(msg message.Message) {
		s.handle(ctx, msg)
	})
	return nil
}

// Stop unsubscribes from the bus. Stop is idempotent.
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// State returns a copy of the current derived state.
func (s *Snapshotter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Snapshotter) bootstrap(ctx context.Context) error {
	existing, err := s.bus.FindLast(ctx, ledger.QueryOptions{ClusterID: s.clusterID, Topic: message.TopicStateSnapshot})
	if err != nil {
		return err
	}
	if existing != nil {
		var state State
		if err := decodeState(existing.Content.Data, &state); err == nil {
			s.mu.Lock()
			s.state = state
			s.lastHash, s.haveHash = hashState(state), true
			s.mu.Unlock()
			return nil
		}
		s.logger.Warn("snapshot: failed to decode existing STATE_SNAPSHOT, replaying instead", "cluster_id", s.clusterID)
	}

	var state State
	state.Version = Version
	var latest []message.Message
	for _, topic := range SubscribedTopics {
		last, err := s.bus.FindLast(ctx, ledger.QueryOptions{ClusterID: s.clusterID, Topic: topic})
		if err != nil {
			return err
		}
		if last == nil {
			continue
		}
		latest = append(latest, *last)
	}
	if len(latest) == 0 {
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()
		return nil
	}

	// Two different topics can fold into the same section (WORKER_PROGRESS
	// and IMPLEMENTATION_READY both write state.Progress), so the fold
	// order here must match the order messages were actually published in,
	// not topic name order, or a stale message could win over a fresher
	// one that folds into the same section.
	sort.Slice(latest, func(i, j int) bool {
		if latest[i].Timestamp != latest[j].Timestamp {
			return latest[i].Timestamp < latest[j].Timestamp
		}
		return latest[i].ID < latest[j].ID
	})
	for _, msg := range latest {
		fold(&state, msg)
	}
	return s.commit(ctx, state)
}

func (s *Snapshotter) handle(ctx context.Context, msg message.Message) {
	if msg.ClusterID != s.clusterID {
		return
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state.Version == 0 {
		state.Version = Version
	}
	fold(&state, msg)
	if err := s.commit(ctx, state); err != nil {
		s.logger.Error("snapshot: commit failed", err, "cluster_id", s.clusterID, "topic", msg.Topic)
	}
}

// commit stores the new state and republishes STATE_SNAPSHOT only if its
// content hash differs from the last published hash, using a
// constant-time comparison to avoid timing-based publish storms on
// duplicate content.
func (s *Snapshotter) commit(ctx context.Context, state State) error {
	newHash := hashState(state)

	s.mu.Lock()
	unchanged := s.haveHash && subtle.ConstantTimeCompare(s.lastHash[:], newHash[:]) == 1
	s.mu.Unlock()
	if unchanged {
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()
		return nil
	}

	data, err := stateToMap(state)
	if err != nil {
		return fmt.Errorf("snapshot: encode state: %w", err)
	}

	_, err = s.bus.Publish(ctx, message.Message{
		ClusterID: s.clusterID,
		Topic:     message.TopicStateSnapshot,
		Sender:    message.SenderStateSnapshotter,
		Receiver:  message.ReceiverBroadcast,
		Content: message.Content{
			Text: summarize(state),
			Data: data,
		},
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = state
	s.lastHash, s.haveHash = newHash, true
	s.mu.Unlock()
	return nil
}

func hashState(state State) [32]byte {
	data, err := json.Marshal(state)
	if err != nil {
		return sha256.Sum256(nil)
	}
	return sha256.Sum256(data)
}

func stateToMap(state State) (map[string]any, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeState(data map[string]any, out *State) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func summarize(state State) string {
	lines := make([]string, 0, 5)
	if state.Task != nil && state.Task.Title != "" {
		lines = append(lines, "task: "+state.Task.Title)
	}
	if state.Plan != nil && state.Plan.Summary != "" {
		lines = append(lines, "plan: "+state.Plan.Summary)
	}
	if state.Progress != nil {
		lines = append(lines, fmt.Sprintf("progress: %d%% (canValidate=%v)", state.Progress.PercentComplete, state.Progress.CanValidate))
	}
	if state.Validation != nil {
		lines = append(lines, fmt.Sprintf("validation: approved=%v errors=%d", state.Validation.Approved, len(state.Validation.Errors)))
	}
	if state.Debug != nil && state.Debug.FixPlan != "" {
		lines = append(lines, "debug: "+state.Debug.FixPlan)
	}
	if len(lines) == 0 {
		return "no state yet"
	}
	out := lines[0]
	for _, l := range lines[1:] {
		out += "\n" + l
	}
	return out
}
