package guard

import (
	"regexp"
	"strings"
)

type ruleKind int

const (
	ruleLiteral ruleKind = iota
	ruleRegex
	ruleNever // malformed regex rule: present but never matches
)

// rule is one compiled user pattern. A pattern wrapped as /…/flags compiles
// as a regular expression; anything else is tried as byte-exact equality
// first and as a shell-style glob second.
type rule struct {
	raw  string
	kind ruleKind
	re   *regexp.Regexp
	glob *regexp.Regexp
}

func compileRule(raw string) rule {
	raw = strings.TrimSpace(raw)
	if body, flags, ok := splitRegexRule(raw); ok {
		re, err := regexp.Compile(regexFlagsPrefix(flags) + body)
		if err != nil {
			return rule{raw: raw, kind: ruleNever}
		}
		return rule{raw: raw, kind: ruleRegex, re: re}
	}
	return rule{raw: raw, kind: ruleLiteral, glob: compileGlob(raw)}
}

func (r rule) matches(subject string) bool {
	switch r.kind {
	case ruleNever:
		return false
	case ruleRegex:
		return r.re.MatchString(subject)
	default:
		if r.raw == subject {
			return true
		}
		return r.glob != nil && r.glob.MatchString(subject)
	}
}

// splitRegexRule recognizes /body/flags syntax. The body may contain escaped
// slashes; flags are the trailing letters after the last unescaped slash.
func splitRegexRule(raw string) (body, flags string, ok bool) {
	if len(raw) < 2 || raw[0] != '/' {
		return "", "", false
	}
	last := -1
	for i := len(raw) - 1; i > 0; i-- {
		if raw[i] == '/' && raw[i-1] != '\\' {
			last = i
			break
		}
	}
	if last <= 0 {
		return "", "", false
	}
	body = raw[1:last]
	flags = raw[last+1:]
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
		default:
			// Unknown flag: not our regex syntax, fall back to literal/glob.
			return "", "", false
		}
	}
	return body, flags, true
}

func regexFlagsPrefix(flags string) string {
	if flags == "" {
		return ""
	}
	return "(?" + flags + ")"
}

// compileGlob translates a shell-style glob (* and ? wildcards) into a
// full-string regexp. Returns nil for the empty pattern.
func compileGlob(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

// RuleSet holds the compiled user rules. Compiled once per Classifier; pure
// data afterwards.
type RuleSet struct {
	allowCommands []rule
	allowPaths    []rule
	blockCommands []rule
	workspaceRoot string
}

func compileRules(cfg Rules) *RuleSet {
	rs := &RuleSet{workspaceRoot: strings.TrimSpace(cfg.WorkspaceRoot)}
	for _, p := range cfg.Allowlist.Commands {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rs.allowCommands = append(rs.allowCommands, compileRule(p))
	}
	for _, p := range cfg.Allowlist.Paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rs.allowPaths = append(rs.allowPaths, compileRule(p))
	}
	for _, p := range cfg.Blocklist.Commands {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rs.blockCommands = append(rs.blockCommands, compileRule(p))
	}
	return rs
}

func (rs *RuleSet) allowsCommand(cmd string) bool {
	for _, r := range rs.allowCommands {
		if r.matches(cmd) {
			return true
		}
	}
	return false
}

func (rs *RuleSet) allowsPath(dir string) bool {
	for _, r := range rs.allowPaths {
		if r.matches(dir) {
			return true
		}
	}
	return false
}

// blockedBy returns the raw pattern of the first matching blocklist rule.
func (rs *RuleSet) blockedBy(cmd string) (string, bool) {
	for _, r := range rs.blockCommands {
		if r.matches(cmd) {
			return r.raw, true
		}
	}
	return "", false
}
