package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// iterationPatternMatches reports whether iteration (1-based) falls within a modelRules
// "iterations" pattern: "all", a bare "N", a closed range "M-N", or an
// open-ended "N+".
func iterationPatternMatches(pattern string, iteration int) (bool, error) {
	p := strings.TrimSpace(pattern)
	if p == "" || strings.EqualFold(p, "all") {
		return true, nil
	}
	if strings.HasSuffix(p, "+") {
		n, err := strconv.Atoi(strings.TrimSuffix(p, "+"))
		if err != nil {
			return false, fmt.Errorf("modelRules: invalid open-ended pattern %q: %w", pattern, err)
		}
		return iteration >= n, nil
	}
	if idx := strings.Index(p, "-"); idx > 0 {
		lo, err := strconv.Atoi(strings.TrimSpace(p[:idx]))
		if err != nil {
			return false, fmt.Errorf("modelRules: invalid range pattern %q: %w", pattern, err)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(p[idx+1:]))
		if err != nil {
			return false, fmt.Errorf("modelRules: invalid range pattern %q: %w", pattern, err)
		}
		return iteration >= lo && iteration <= hi, nil
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return false, fmt.Errorf("modelRules: invalid pattern %q: %w", pattern, err)
	}
	return iteration == n, nil
}

// isCatchAll reports whether pattern matches every positive iteration.
func isCatchAll(pattern string) bool {
	p := strings.TrimSpace(pattern)
	if strings.EqualFold(p, "all") {
		return true
	}
	if p == "1+" {
		return true
	}
	return false
}

// HasCatchAllRule reports whether rules contains at least one rule that
// matches every iteration — required by the config validator.
func HasCatchAllRule(rules []ModelRule) bool {
	for _, r := range rules {
		if isCatchAll(r.Iterations) {
			return true
		}
	}
	return false
}

// ResolveModel returns the model selected by the first rule in rules
// whose iterations pattern matches the given 1-based iteration. Rules are
// evaluated in declaration order; the first match wins.
func ResolveModel(rules []ModelRule, iteration int) (string, error) {
	for _, r := range rules {
		ok, err := iterationPatternMatches(r.Iterations, iteration)
		if err != nil {
			return "", err
		}
		if ok {
			return r.Model, nil
		}
	}
	return "", fmt.Errorf("modelRules: no rule matches iteration %d (missing catch-all)", iteration)
}
