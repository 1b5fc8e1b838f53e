package agentcontext

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/zeroshot-run/zeroshot/internal/bus"
	"github.com/zeroshot-run/zeroshot/internal/ledger"
	"github.com/zeroshot-run/zeroshot/internal/message"
)

const (
	statusCannotValidate    = "CANNOT_VALIDATE"
	statusCannotValidateYet = "CANNOT_VALIDATE_YET"
)

// platformMismatchPattern matches reasons describing a validator unable
// to run a criterion because the check depends on the host platform
// (e.g. "requires macOS", "platform-specific: linux only"). Isolated
// agents run in their own worktree/container and never see these
// criteria demoted back into scope, since the isolation itself answers
// "is this platform available".
var platformMismatchPattern = regexp.MustCompile(`(?i)platform[- ]?(mismatch|specific)|requires (macos|windows|linux)|only (runs?|available) on|ebadplatform|(linux|darwin|win32)-(x64|x86|arm64|ia32|arm)`)

// criterion mirrors the structured shape a validator publishes on
// VALIDATION_RESULT.
type criterion struct {
	ID     string
	Status string
	Reason string
}

// validatorSkipSection builds the "Permanently Unverifiable Criteria
// (SKIP THESE)" section from the most recent VALIDATION_RESULT message
// on b. isolated controls whether platform-mismatch criteria are
// excluded from the list (an isolated agent runs in its own worktree or
// container, so a platform mismatch that blocked a shared-environment
// run may no longer apply; those reasons are dropped rather than kept).
func validatorSkipSection(b *bus.MessageBus, isolated bool) (string, error) {
	last, err := b.FindLast(context.Background(), ledger.QueryOptions{Topic: message.TopicValidationResult, Order: "desc"})
	if err != nil {
		return "", err
	}
	if last == nil {
		return "", nil
	}

	criteria := extractCriteria(*last)
	if len(criteria) == 0 {
		return "", nil
	}

	seen := map[string]struct{}{}
	var skip []criterion
	for _, c := range criteria {
		if c.Status != statusCannotValidate {
			continue
		}
		if isolated && platformMismatchPattern.MatchString(c.Reason) {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		skip = append(skip, c)
	}
	if len(skip) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("### Permanently Unverifiable Criteria (SKIP THESE)\n")
	sb.WriteString("The following criteria cannot be validated in this environment. Do not attempt them again:\n")
	for _, c := range skip {
		if c.Reason != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", c.ID, c.Reason)
		} else {
			fmt.Fprintf(&sb, "- %s\n", c.ID)
		}
	}
	return sb.String(), nil
}

func extractCriteria(m message.Message) []criterion {
	raw, ok := m.Content.Data["criteria"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]criterion, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		status, _ := entry["status"].(string)
		reason, _ := entry["reason"].(string)
		if id == "" {
			continue
		}
		out = append(out, criterion{ID: id, Status: status, Reason: reason})
	}
	return out
}
