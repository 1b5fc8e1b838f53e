// Package message defines the unit of ledger and bus traffic: Message.
package message

import (
	"strings"
	"time"

	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// Content is the free-form body of a Message. Text carries a
// human-readable summary; Data carries a structured payload consumed by
// context builders, folds, and hooks.
type Content struct {
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Metadata is an open record attached to a Message, e.g. {"source": "issue"}.
type Metadata map[string]any

// Message is the immutable, totally-ordered record stored by the Ledger
// and fanned out by the MessageBus.
type Message struct {
	ID        int64    `json:"id"`
	Timestamp int64    `json:"timestamp"`
	ClusterID string   `json:"cluster_id"`
	Topic     string   `json:"topic"`
	Sender    string   `json:"sender"`
	Receiver  string   `json:"receiver"`
	Content   Content  `json:"content"`
	Metadata  Metadata `json:"metadata,omitempty"`
}

// Reserved topics the core recognizes and, in a few cases, treats
// specially (StateSnapshotter folds, completion detection).
const (
	TopicIssueOpened          = "ISSUE_OPENED"
	TopicPlanReady            = "PLAN_READY"
	TopicWorkerProgress       = "WORKER_PROGRESS"
	TopicImplementationReady  = "IMPLEMENTATION_READY"
	TopicValidationResult     = "VALIDATION_RESULT"
	TopicInvestigationComplete = "INVESTIGATION_COMPLETE"
	TopicStateSnapshot        = "STATE_SNAPSHOT"
	TopicClusterComplete      = "CLUSTER_COMPLETE"
	TopicContextMetrics       = "CONTEXT_METRICS"
	TopicUserGuidanceCluster  = "USER_GUIDANCE_CLUSTER"
	TopicUserGuidanceAgent    = "USER_GUIDANCE_AGENT"
)

// ReceiverBroadcast is the default receiver for messages with no specific
// target.
const ReceiverBroadcast = "broadcast"

const (
	SenderSystem          = "system"
	SenderUser            = "user"
	SenderStateSnapshotter = "state-snapshotter"
)

// Normalize trims string fields and fills defaults that are safe to infer
// (receiver defaults to broadcast). It never assigns ID or Timestamp;
// those are the Ledger's job on append.
func (m *Message) Normalize() {
	if m == nil {
		return
	}
	m.ClusterID = strings.TrimSpace(m.ClusterID)
	m.Topic = strings.TrimSpace(m.Topic)
	m.Sender = strings.TrimSpace(m.Sender)
	m.Receiver = strings.TrimSpace(m.Receiver)
	if m.Receiver == "" {
		m.Receiver = ReceiverBroadcast
	}
}

// Validate enforces the baseline invariants: cluster_id, topic, and sender
// are required and non-empty.
func (m Message) Validate() error {
	if m.ClusterID == "" {
		return zerrors.NewValidationError("cluster_id", nil)
	}
	if m.Topic == "" {
		return zerrors.NewValidationError("topic", nil)
	}
	if m.Sender == "" {
		return zerrors.NewValidationError("sender", nil)
	}
	return nil
}

// NowMillis returns the current time as integer milliseconds since epoch,
// the Message.Timestamp unit.
func NowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}
