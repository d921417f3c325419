package guard

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Recommendation string

const (
	RecommendAllow       Recommendation = "allow"
	RecommendLogAndAllow Recommendation = "log_and_allow"
	RecommendApprove     Recommendation = "approve"
	RecommendBlock       Recommendation = "block"
)

// Verdict is the classifier's decision for one command. A fresh value is
// produced per Classify call and never mutated afterwards.
type Verdict struct {
	Level          RiskLevel
	Reasons        []string
	Command        string
	WorkingDir     string
	Recommendation Recommendation
}

// Rules is the user-supplied rule configuration. It is plain data; parsing a
// config file into it belongs to the caller.
type Rules struct {
	Allowlist     AllowRules     `yaml:"allowlist" json:"allowlist"`
	Blocklist     BlockRules     `yaml:"blocklist" json:"blocklist"`
	Redaction     RedactionRules `yaml:"redaction" json:"redaction"`
	WorkspaceRoot string         `yaml:"workspace_root" json:"workspace_root"`
}

type AllowRules struct {
	Commands []string `yaml:"commands" json:"commands"`
	Paths    []string `yaml:"paths" json:"paths"`
}

type BlockRules struct {
	Commands []string `yaml:"commands" json:"commands"`
}

// RedactionRules configures extra masking patterns on top of the built-ins.
type RedactionRules struct {
	Enabled  bool               `yaml:"enabled" json:"enabled"`
	Patterns []RedactionPattern `yaml:"patterns" json:"patterns"`
}

type RedactionPattern struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
}
