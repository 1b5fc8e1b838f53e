package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/zeroshot-run/zeroshot/internal/cluster"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/message"
	"github.com/zeroshot-run/zeroshot/internal/zerrors"
)

// Export renders a cluster's full message history in the given format.
// "markdown" is the only format the core implements; richer renderings
// (HTML, a TUI transcript view) are collaborator concerns.
func (o *Orchestrator) Export(ctx context.Context, id, format string) (string, error) {
	if format != "markdown" {
		return "", zerrors.NewValidationError("format", fmt.Errorf("unsupported export format %q", format))
	}
	c, ok := o.registry.get(id)
	if !ok {
		return "", zerrors.NewStorageError("export", fmt.Errorf("unknown cluster %s", id))
	}

	msgs, err := o.readAllMessages(ctx, c.ID)
	if err != nil {
		return "", err
	}
	return renderMarkdown(c, msgs), nil
}

func (o *Orchestrator) readAllMessages(ctx context.Context, clusterID string) ([]message.Message, error) {
	o.mu.Lock()
	rt, running := o.runtimes[clusterID]
	o.mu.Unlock()
	if running {
		return rt.ledger.Query(ctx, ledger.QueryOptions{ClusterID: clusterID})
	}

	l, err := ledger.Open(ctx, o.cfg.DatabasePath(clusterID), clusterID)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.Query(ctx, ledger.QueryOptions{ClusterID: clusterID})
}

func renderMarkdown(c *cluster.Cluster, msgs []message.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Cluster Export: %s\n\nstate: %s\n\n", c.ID, c.State)
	for _, m := range msgs {
		fmt.Fprintf(&sb, "## %s — %s\n", m.Topic, m.Sender)
		if m.Content.Text != "" {
			sb.WriteString(m.Content.Text)
			sb.WriteString("\n")
		}
		for k, v := range m.Content.Data {
			fmt.Fprintf(&sb, "- **%s**: %v\n", k, v)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
