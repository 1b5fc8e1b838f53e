package agentcontext

import (
	"time"

	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// Anchors carries the timestamps an AgentContextBuilder resolves the
// "since" literal tokens against.
type Anchors struct {
	ClusterStart    int64
	LastTaskEnd     *int64
	LastAgentStart  *int64
}

// resolveSince turns a since token into a millisecond timestamp. Accepted
// tokens: "cluster_start", "last_task_end", "last_agent_start", or an ISO
// (RFC3339) timestamp string. Anything else is a ConfigError.
func resolveSince(token string, anchors Anchors) (*int64, error) {
	if token == "" {
		return nil, nil
	}
	switch token {
	case "cluster_start":
		v := anchors.ClusterStart
		return &v, nil
	case "last_task_end":
		return anchors.LastTaskEnd, nil
	case "last_agent_start":
		return anchors.LastAgentStart, nil
	}
	t, err := time.Parse(time.RFC3339, token)
	if err != nil {
		return nil, zerrors.NewConfigError("contextStrategy source.since", err)
	}
	ms := t.UnixMilli()
	return &ms, nil
}
