package guard

import (
	"strings"

	"github.com/polucas/clawshell/internal/pathutil"
)

const (
	ReasonAllowlisted      = "allowlisted"
	ReasonStandardCommand  = "standard_command"
	ReasonEmptyCommand     = "empty_command"
	ReasonOutsideWorkspace = "file_operation_outside_workspace"
)

// Classifier evaluates shell commands against the compiled rule set plus the
// builtin pattern tiers. Pure with respect to its rules; no I/O.
type Classifier struct {
	rules *RuleSet
}

func NewClassifier(cfg Rules) *Classifier {
	return &Classifier{rules: compileRules(cfg)}
}

// Classify returns a risk verdict for one command. The evaluation order is:
// empty, blocklist, command allowlist, critical builtins, high builtins,
// medium builtins plus the workspace boundary (downgradable by the path
// allowlist), default low. Compound commands are classified as a single
// string: one risky fragment elevates the whole command.
func (c *Classifier) Classify(command, workingDir string) Verdict {
	cmd := strings.TrimSpace(command)
	v := Verdict{Command: cmd, WorkingDir: workingDir}

	if cmd == "" {
		v.Level = RiskLow
		v.Reasons = []string{ReasonEmptyCommand}
		v.Recommendation = RecommendAllow
		return v
	}

	// Blocklist is unconditional: not downgradable by any allowlist.
	if pattern, ok := c.rules.blockedBy(cmd); ok {
		v.Level = RiskCritical
		v.Reasons = []string{"blocklisted:" + pattern}
		v.Recommendation = RecommendBlock
		return v
	}

	if c.rules.allowsCommand(cmd) {
		v.Level = RiskLow
		v.Reasons = []string{ReasonAllowlisted}
		v.Recommendation = RecommendAllow
		return v
	}

	if reasons := matchesBuiltin(cmd, criticalPatterns); len(reasons) > 0 {
		v.Level = RiskCritical
		v.Reasons = reasons
		v.Recommendation = RecommendBlock
		return v
	}

	// The command allowlist already returned above, so a high hit here can
	// only be downgraded by nothing: allowlist-by-path never applies to high.
	if reasons := matchesBuiltin(cmd, highPatterns); len(reasons) > 0 {
		v.Level = RiskHigh
		v.Reasons = reasons
		v.Recommendation = RecommendApprove
		return v
	}

	reasons := matchesBuiltin(cmd, mediumPatterns)
	if c.outsideWorkspace(workingDir) && writeOpRe.MatchString(cmd) {
		reasons = append(reasons, ReasonOutsideWorkspace)
	}
	if len(reasons) > 0 {
		if c.rules.allowsPath(workingDir) {
			v.Level = RiskLow
			v.Reasons = []string{ReasonAllowlisted}
			v.Recommendation = RecommendAllow
			return v
		}
		v.Level = RiskMedium
		v.Reasons = reasons
		v.Recommendation = RecommendLogAndAllow
		return v
	}

	v.Level = RiskLow
	v.Reasons = []string{ReasonStandardCommand}
	v.Recommendation = RecommendAllow
	return v
}

// outsideWorkspace reports whether workingDir lies outside the configured
// workspace root. With no root configured nothing is outside.
func (c *Classifier) outsideWorkspace(workingDir string) bool {
	return pathutil.OutsideRoot(c.rules.workspaceRoot, workingDir)
}
