package snapshot

import (
	"fmt"
	"strings"

	"github.com/zeroshot-run/zeroshot/internal/message"
)

// fold applies msg to state in place, returning the name of the section
// that was touched (for logging), or "" for a topic it does not fold.
func fold(state *State, msg message.Message) string {
	switch msg.Topic {
	case message.TopicIssueOpened:
		state.Task = foldTask(msg)
		return "task"
	case message.TopicPlanReady:
		state.Plan = foldPlan(msg)
		return "plan"
	case message.TopicWorkerProgress, message.TopicImplementationReady:
		state.Progress = foldProgress(msg)
		return "progress"
	case message.TopicValidationResult:
		state.Validation = foldValidation(msg)
		return "validation"
	case message.TopicInvestigationComplete:
		state.Debug = foldDebug(msg)
		return "debug"
	default:
		return ""
	}
}

func foldTask(msg message.Message) *TaskSection {
	t := &TaskSection{Text: capField(msg.Content.Text)}
	if v, ok := stringField(msg.Content.Data, "title"); ok {
		t.Title = capField(v)
	}
	if v, ok := stringField(msg.Content.Data, "issueNumber"); ok {
		t.IssueNumber = v
	}
	if v, ok := stringField(msg.Content.Data, "source"); ok {
		t.Source = v
	} else if v, ok := stringField(mapAny(msg.Metadata), "source"); ok {
		t.Source = v
	}
	if isEmptyTask(t) {
		return nil
	}
	return t
}

func isEmptyTask(t *TaskSection) bool {
	return t.Text == "" && t.Title == "" && t.IssueNumber == "" && t.Source == ""
}

func foldPlan(msg message.Message) *PlanSection {
	p := &PlanSection{}
	if v, ok := stringField(msg.Content.Data, "summary"); ok {
		p.Summary = capField(v)
	}
	p.AcceptanceCriteria = capList(stringSliceField(msg.Content.Data, "acceptanceCriteria"))
	p.FilesAffected = capList(stringSliceField(msg.Content.Data, "filesAffected"))
	if v, ok := stringField(msg.Content.Data, "planText"); ok {
		if len(v) > maxPlanChars {
			v = v[:maxPlanChars] + "\n...[truncated]"
		}
		p.PlanText = v
	}
	if p.Summary == "" && len(p.AcceptanceCriteria) == 0 && len(p.FilesAffected) == 0 && p.PlanText == "" {
		return nil
	}
	return p
}

func foldProgress(msg message.Message) *ProgressSection {
	status, ok := mapField(msg.Content.Data, "completionStatus")
	if !ok {
		return nil
	}
	p := &ProgressSection{}
	p.CanValidate, _ = boolField(status, "canValidate")
	p.PercentComplete, _ = intField(status, "percentComplete")
	p.Blockers = capList(stringSliceField(status, "blockers"))
	p.NextSteps = capList(stringSliceField(status, "nextSteps"))
	if v, ok := stringField(status, "lastSummary"); ok {
		p.LastSummary = capField(v)
	} else if v, ok := stringField(status, "summary"); ok {
		p.LastSummary = capField(v)
	}
	return p
}

func foldValidation(msg message.Message) *ValidationSection {
	v := &ValidationSection{}
	approvedRaw, hasApproved := msg.Content.Data["approved"]
	if hasApproved {
		approved, err := normalizeBoolean(approvedRaw)
		if err != nil {
			approved = false
		}
		v.Approved = approved
	}
	v.Errors = capList(stringSliceField(msg.Content.Data, "errors"))

	rawCriteria, _ := msg.Content.Data["criteria"].([]any)
	for i, rc := range rawCriteria {
		if i >= maxListLen {
			break
		}
		cm, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		cr := CriterionResult{}
		cr.ID, _ = stringField(cm, "id")
		cr.Status, _ = stringField(cm, "status")
		cr.Reason, _ = stringField(cm, "reason")
		cr.Evidence, _ = stringField(cm, "evidence")
		v.Criteria = append(v.Criteria, cr)
	}
	return v
}

func foldDebug(msg message.Message) *DebugSection {
	d := &DebugSection{}
	if v, ok := stringField(msg.Content.Data, "fixPlan"); ok {
		d.FixPlan = capField(v)
	}
	d.SuccessCriteria = capList(stringSliceField(msg.Content.Data, "successCriteria"))
	d.RootCauses = capList(stringSliceField(msg.Content.Data, "rootCauses"))
	if d.FixPlan == "" && len(d.SuccessCriteria) == 0 && len(d.RootCauses) == 0 {
		return nil
	}
	return d
}

// normalizeBoolean accepts a bool, or the strings "true"/"false"
// (case-insensitive), per the spec's open-question resolution; anything
// else is an error.
func normalizeBoolean(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("snapshot: cannot normalize %v (%T) to boolean", v, v)
}

func mapAny(m message.Metadata) map[string]any {
	return map[string]any(m)
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return fmt.Sprintf("%v", t), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

func boolField(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, err := normalizeBoolean(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	}
	return 0, false
}

func mapField(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	sub, ok := v.(map[string]any)
	return sub, ok
}

func stringSliceField(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
