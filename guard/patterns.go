package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// builtinPattern is one fixed risk pattern. Builtin patterns are author-owned:
// an invalid one is a bug, so compilation panics at init instead of degrading.
type builtinPattern struct {
	reason  string
	network bool // subject to the loopback exemption
	re      *regexp.Regexp
}

func mustPattern(reason, expr string) builtinPattern {
	re, err := regexp.Compile(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid builtin pattern %q: %v", reason, err))
	}
	return builtinPattern{reason: reason, re: re}
}

func mustNetworkPattern(reason, expr string) builtinPattern {
	p := mustPattern(reason, expr)
	p.network = true
	return p
}

var criticalPatterns = []builtinPattern{
	// rm with a recursive flag targeting /, ~ or $HOME.
	mustPattern("destructive_root_delete",
		`\brm\s+(?:-[a-zA-Z-]+\s+)*-[a-zA-Z-]*[rR][a-zA-Z-]*\s+(?:-[a-zA-Z-]+\s+)*["']?(?:/|~|\$HOME)[/*]*["']?(?:\s|$|[;&|])`),
	mustPattern("fork_bomb",
		`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;?\s*:`),
	mustPattern("raw_disk_write",
		`\bdd\s+[^;&|]*\bof=/dev/\w+`),
	mustPattern("filesystem_format",
		`\bmkfs(?:\.\w+)?\b`),
	mustPattern("pipe_to_shell",
		`\|\s*(?:sudo\s+)?(?:bash|sh|zsh|dash)(?:\s|$)`),
	mustPattern("base64_pipe_to_shell",
		`\bbase64\s+(?:-d|--decode)\b[^;&|]*\|\s*(?:sudo\s+)?(?:bash|sh|zsh|dash)(?:\s|$)`),
	mustPattern("eval_substitution",
		"\\beval\\b[^;&|]*(?:\\$\\(|`)"),
}

var highPatterns = []builtinPattern{
	// Recursive or forced delete; root/home targets were caught above.
	mustPattern("destructive_command",
		`\brm\s+(?:-[a-zA-Z-]+\s+)*-[a-zA-Z-]*[rRf][a-zA-Z-]*\b`),
	mustNetworkPattern("network_access",
		`\b(?:curl|wget)\b`),
	mustNetworkPattern("network_access",
		`\b(?:nc|ncat|netcat)\b`),
	mustPattern("remote_access",
		`\b(?:ssh|scp|rsync)\b`),
	mustPattern("ssh_key_access",
		`\.ssh/(?:id_[a-z0-9]+|[^\s]*\.pem)`),
	mustPattern("cloud_credentials_access",
		`\.(?:aws|gcloud|azure)/|\.kube/config`),
	mustPattern("credential_store_access",
		`\bcredentials\b`),
	mustPattern("env_file_access",
		`\.env\b`),
	mustPattern("system_credentials_access",
		`/etc/(?:shadow|passwd)\b`),
	mustPattern("privilege_escalation",
		`\bsudo\b|(?:^|[\s;&|])su(?:\s+-|\s+root\b|\s*$)|\bdoas\b`),
	mustPattern("world_writable_chmod",
		`\bchmod\s+(?:-[a-zA-Z]+\s+)*0?777\b|\bchmod\b[^;&|]*\b(?:a|o)\+w\b`),
	mustPattern("ownership_change",
		`\bchown\b`),
	mustPattern("base64_decode",
		`\bbase64\s+(?:-d|--decode)\b`),
}

var mediumPatterns = []builtinPattern{
	mustPattern("package_install",
		`\b(?:npm|pnpm|yarn)\s+(?:install|add|i)\b|\bpip3?\s+install\b|\bgem\s+install\b|\bcargo\s+(?:install|add)\b|\b(?:apt|apt-get|dnf|yum)\s+(?:-[a-zA-Z-]+\s+)*install\b|\bbrew\s+install\b|\bgo\s+install\b`),
	mustPattern("vcs_mutation",
		`\bgit\s+(?:push|commit)\b`),
	mustPattern("process_spawn",
		`\b(?:nohup|setsid|spawn|fork)\b`),
}

// writeOpRe marks write-oriented file operations for the workspace-boundary
// check: copy/move/stream-append/truncate.
var writeOpRe = regexp.MustCompile(`\b(?:cp|mv|tee|truncate)\b|>{1,2}`)

// loopbackHosts are exempt, lexically, from the network patterns.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

var schemeHostRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://(\[[^\]]+\]|[^\s/:"']+)`)

// hostTokenRe matches bare host[:port] arguments like "localhost:8080" or
// "127.0.0.1 4444". Conservative: anything with a path separator is not a host.
var hostTokenRe = regexp.MustCompile(`^(\[[^\]]+\]|[a-zA-Z0-9.-]+|::1)(?::\d+)?(?:/.*)?$`)

// matchesBuiltin collects the reasons of every matching pattern in tier order.
func matchesBuiltin(cmd string, patterns []builtinPattern) []string {
	var reasons []string
	seen := map[string]bool{}
	for _, p := range patterns {
		if !p.re.MatchString(cmd) {
			continue
		}
		if p.network && targetsLoopbackOnly(cmd) {
			continue
		}
		if seen[p.reason] {
			continue
		}
		seen[p.reason] = true
		reasons = append(reasons, p.reason)
	}
	return reasons
}

// targetsLoopbackOnly reports whether every host-like target in the command
// resolves lexically to a loopback address. A command with no recognizable
// host target is not exempt.
func targetsLoopbackOnly(cmd string) bool {
	hosts := extractHosts(cmd)
	if len(hosts) == 0 {
		return false
	}
	for _, h := range hosts {
		if !isLoopbackHost(h) {
			return false
		}
	}
	return true
}

func extractHosts(cmd string) []string {
	var hosts []string
	for _, m := range schemeHostRe.FindAllStringSubmatch(cmd, -1) {
		hosts = append(hosts, m[1])
	}
	if len(hosts) > 0 {
		return hosts
	}
	// No URLs: look at the first non-flag argument after a network tool.
	fields := strings.Fields(cmd)
	for i, f := range fields {
		switch f {
		case "curl", "wget", "nc", "ncat", "netcat":
			for _, arg := range fields[i+1:] {
				if strings.HasPrefix(arg, "-") {
					continue
				}
				if m := hostTokenRe.FindStringSubmatch(arg); m != nil {
					hosts = append(hosts, m[1])
				}
				break
			}
		}
	}
	return hosts
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[:i], ":") && allDigits(host[i+1:]) {
		host = host[:i]
	}
	return loopbackHosts[strings.ToLower(host)]
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
