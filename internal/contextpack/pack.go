// Package contextpack selects and renders prompt content under a token
// budget. It has no knowledge of agents, clusters, or the ledger — it
// operates purely on an ordered list of Pack values, which makes it
// reusable by both the static header/instructions assembly and the
// dynamic ledger-sourced packs in internal/agentcontext.
package contextpack

import (
	"sort"
	"strings"
)

// Priority is the selection tier of a Pack.
type Priority string

const (
	PriorityRequired Priority = "required"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func priorityRank(p Priority) int {
	switch p {
	case PriorityRequired:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2 // unknown priorities behave like medium
	}
}

// Pack is one fragment of an assembled prompt.
type Pack struct {
	ID       string
	Section  string
	Priority Priority
	Order    int
	// Preserve marks a required pack as the last one eligible for
	// truncation by the char guard.
	Preserve bool
	Render   func() string
	// Compact renders a shorter variant. nil means no compact form.
	Compact func() string
}

func (p Pack) normalizedPriority() Priority {
	if p.Priority == "" {
		return PriorityMedium
	}
	return p.Priority
}

func (p Pack) hasCompact() bool {
	return p.Compact != nil
}

// Status of a pack's inclusion decision.
type Status string

const (
	StatusIncluded Status = "included"
	StatusSkipped  Status = "skipped"
)

// Variant names a rendered form.
type Variant string

const (
	VariantFull    Variant = "full"
	VariantCompact Variant = "compact"
	VariantNone    Variant = ""
)

// Decision records what happened to one pack during Build.
type Decision struct {
	PackID    string
	Status    Status
	Variant   Variant
	Chars     int
	Tokens    int
	Truncated bool
	Reason    string
}

// Result is the output of Build.
type Result struct {
	Context          string
	Decisions        []Decision
	MaxTokens        int
	MaxChars         int
	UsedTokens       int
	OverBudgetTokens int
}

// DefaultMaxChars is the hard character guard applied when a Builder's
// MaxChars is left at zero.
const DefaultMaxChars = 500_000

// EstimateTokens approximates token count as ceil(chars/4); the empty
// string estimates to zero.
func EstimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Builder assembles a Result from an ordered list of packs.
type Builder struct {
	MaxTokens int
	MaxChars  int
}

type entry struct {
	pack      Pack
	variant   Variant
	text      string
	included  bool
	truncated bool
	reason    string
}

// Build runs the selection algorithm: sort by priority then order, walk
// the queue deducting from the token budget, render in original order,
// then apply the character guard.
func (b Builder) Build(packs []Pack) Result {
	maxChars := b.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	entries := make([]*entry, len(packs))
	for i, p := range packs {
		entries[i] = &entry{pack: p}
	}

	queue := make([]*entry, len(entries))
	copy(queue, entries)
	sort.SliceStable(queue, func(i, j int) bool {
		ri, rj := priorityRank(queue[i].pack.normalizedPriority()), priorityRank(queue[j].pack.normalizedPriority())
		if ri != rj {
			return ri < rj
		}
		return queue[i].pack.Order < queue[j].pack.Order
	})

	remaining := b.MaxTokens
	overBudget := 0

	for _, e := range queue {
		full := e.pack.Render()
		fullTokens := EstimateTokens(full)
		var compactText string
		var compactTokens int
		if e.pack.hasCompact() {
			compactText = e.pack.Compact()
			compactTokens = EstimateTokens(compactText)
		}

		required := e.pack.normalizedPriority() == PriorityRequired
		if required {
			switch {
			case fullTokens <= remaining:
				e.included, e.variant, e.text = true, VariantFull, full
			case e.pack.hasCompact() && (compactTokens <= remaining || compactTokens < fullTokens):
				e.included, e.variant, e.text = true, VariantCompact, compactText
			case e.pack.hasCompact():
				e.included, e.variant, e.text = true, VariantCompact, compactText
			default:
				e.included, e.variant, e.text = true, VariantFull, full
			}
			used := EstimateTokens(e.text)
			if used > remaining {
				overBudget += used - remaining
				remaining = 0
			} else {
				remaining -= used
			}
			continue
		}

		switch {
		case fullTokens <= remaining:
			e.included, e.variant, e.text = true, VariantFull, full
			remaining -= fullTokens
		case e.pack.hasCompact() && compactTokens <= remaining:
			e.included, e.variant, e.text = true, VariantCompact, compactText
			remaining -= compactTokens
		default:
			e.included, e.reason = false, "budget"
		}
	}

	applyCharGuard(entries, maxChars)

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].pack.Order < entries[j].pack.Order })

	var sb strings.Builder
	decisions := make([]Decision, 0, len(entries))
	usedTokens := 0
	for _, e := range entries {
		d := Decision{PackID: e.pack.ID, Truncated: e.truncated, Reason: e.reason}
		if e.included {
			d.Status = StatusIncluded
			d.Variant = e.variant
			d.Chars = len(e.text)
			d.Tokens = EstimateTokens(e.text)
			usedTokens += d.Tokens
			sb.WriteString(e.text)
		} else {
			d.Status = StatusSkipped
			if d.Reason == "" {
				d.Reason = "budget"
			}
		}
		decisions = append(decisions, d)
	}

	return Result{
		Context:          sb.String(),
		Decisions:        decisions,
		MaxTokens:        b.MaxTokens,
		MaxChars:         maxChars,
		UsedTokens:       usedTokens,
		OverBudgetTokens: overBudget,
	}
}

// applyCharGuard shrinks the set of included entries in place until the
// concatenated length fits within maxChars, mutating entries' text,
// variant, included, and truncated fields as it goes.
func applyCharGuard(entries []*entry, maxChars int) {
	total := func() int {
		n := 0
		for _, e := range entries {
			if e.included {
				n += len(e.text)
			}
		}
		return n
	}

	if total() <= maxChars {
		return
	}

	// Step 1: compact included optional packs, least-important (lowest
	// priority, i.e. highest rank number) and latest order first.
	optionalFull := make([]*entry, 0)
	for _, e := range entries {
		if e.included && e.pack.normalizedPriority() != PriorityRequired && e.variant == VariantFull && e.pack.hasCompact() {
			optionalFull = append(optionalFull, e)
		}
	}
	sort.SliceStable(optionalFull, func(i, j int) bool {
		ri, rj := priorityRank(optionalFull[i].pack.normalizedPriority()), priorityRank(optionalFull[j].pack.normalizedPriority())
		if ri != rj {
			return ri > rj // least important priority first
		}
		return optionalFull[i].pack.Order > optionalFull[j].pack.Order // latest order first
	})
	for _, e := range optionalFull {
		e.text = e.pack.Compact()
		e.variant = VariantCompact
		if total() <= maxChars {
			return
		}
	}

	// Step 2: drop optional packs outright, same ordering.
	optionalIncluded := make([]*entry, 0)
	for _, e := range entries {
		if e.included && e.pack.normalizedPriority() != PriorityRequired {
			optionalIncluded = append(optionalIncluded, e)
		}
	}
	sort.SliceStable(optionalIncluded, func(i, j int) bool {
		ri, rj := priorityRank(optionalIncluded[i].pack.normalizedPriority()), priorityRank(optionalIncluded[j].pack.normalizedPriority())
		if ri != rj {
			return ri > rj
		}
		return optionalIncluded[i].pack.Order > optionalIncluded[j].pack.Order
	})
	for _, e := range optionalIncluded {
		e.included = false
		e.text = ""
		e.reason = "budget"
		if total() <= maxChars {
			return
		}
	}

	// Step 3: truncate required packs, preserve-marked last, largest
	// first among the rest.
	required := make([]*entry, 0)
	for _, e := range entries {
		if e.included && e.pack.normalizedPriority() == PriorityRequired {
			required = append(required, e)
		}
	}
	sort.SliceStable(required, func(i, j int) bool {
		if required[i].pack.Preserve != required[j].pack.Preserve {
			return !required[i].pack.Preserve // non-preserve first
		}
		return len(required[i].text) > len(required[j].text) // largest first
	})

	const marker = "\n...[truncated]"
	for _, e := range required {
		over := total() - maxChars
		if over <= 0 {
			return
		}
		cut := len(e.text) - over - len(marker)
		if cut < 0 {
			cut = 0
		}
		if cut >= len(e.text) {
			continue
		}
		e.text = e.text[:cut] + marker
		e.truncated = true
	}
}
