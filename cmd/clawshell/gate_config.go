package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/gate"
	"github.com/polucas/clawshell/guard"
	"github.com/polucas/clawshell/internal/pathutil"
	"github.com/polucas/clawshell/notify"
)

type gateDeps struct {
	gate    *gate.Gate
	ledger  *approval.Ledger
	history *approval.HistoryStore
	audit   guard.AuditSink
}

func (d *gateDeps) Close() {
	if d == nil {
		return
	}
	if d.ledger != nil {
		d.ledger.Destroy()
	}
	if d.audit != nil {
		_ = d.audit.Close()
	}
	if d.history != nil {
		_ = d.history.Close()
	}
}

// gateFromViper builds the full gate from viper configuration. Notification
// channel construction errors (missing credentials) are fatal; everything
// else degrades with a warning.
func gateFromViper(log *slog.Logger) (*gateDeps, error) {
	if log == nil {
		log = slog.Default()
	}

	rules := rulesFromViper(log)
	classifier := guard.NewClassifier(rules)

	ledgerOpts := []approval.Option{approval.WithLogger(log)}
	if d := viper.GetDuration("approval.timeout"); d > 0 {
		ledgerOpts = append(ledgerOpts, approval.WithTimeout(d))
	}
	ledger := approval.NewLedger(ledgerOpts...)

	channel, err := channelFromViper(log)
	if err != nil {
		ledger.Destroy()
		return nil, err
	}

	deps := &gateDeps{ledger: ledger}

	jsonlPath := strings.TrimSpace(viper.GetString("audit.jsonl_path"))
	if jsonlPath == "" {
		jsonlPath = defaultStatePath("audit.jsonl")
	}
	jsonlPath = pathutil.ExpandHomePath(jsonlPath)
	if jsonlPath != "" {
		sink, err := guard.NewJSONLAuditSink(jsonlPath, viper.GetInt64("audit.rotate_max_bytes"))
		if err != nil {
			log.Warn("audit_sink_error", "path", jsonlPath, "error", err.Error())
		} else {
			deps.audit = sink
		}
	}

	if viper.GetBool("approval.history.enabled") {
		dsn := strings.TrimSpace(viper.GetString("approval.history.dsn"))
		if dsn == "" {
			dsn = defaultStatePath("history.db")
		}
		store, err := approval.NewHistoryStore(pathutil.ExpandHomePath(dsn))
		if err != nil {
			log.Warn("history_store_error", "dsn", dsn, "error", err.Error())
		} else {
			deps.history = store
		}
	}

	executor := gate.NewShellExecutor(viper.GetDuration("exec.timeout"))

	opts := []gate.Option{
		gate.WithLogger(log),
		gate.WithRedactor(guard.NewRedactor(rules.Redaction)),
	}
	if deps.audit != nil {
		opts = append(opts, gate.WithAuditSink(deps.audit))
	}
	if deps.history != nil {
		opts = append(opts, gate.WithHistory(deps.history))
	}
	deps.gate = gate.New(classifier, ledger, channel, executor, opts...)

	log.Info("gate_ready",
		"channel", channel.Name(),
		"approval_timeout", ledger.Timeout().String(),
		"workspace_root", rules.WorkspaceRoot,
		"audit_jsonl", jsonlPath,
		"history_enabled", deps.history != nil,
	)
	return deps, nil
}

func rulesFromViper(log *slog.Logger) guard.Rules {
	var rules guard.Rules

	path := strings.TrimSpace(viper.GetString("guard.rules_file"))
	if path != "" {
		b, err := os.ReadFile(pathutil.ExpandHomePath(path))
		if err != nil {
			log.Warn("rules_file_error", "path", path, "error", err.Error())
		} else if err := yaml.Unmarshal(b, &rules); err != nil {
			log.Warn("rules_file_parse_error", "path", path, "error", err.Error())
		}
	} else {
		rules.Allowlist.Commands = viper.GetStringSlice("guard.allowlist.commands")
		rules.Allowlist.Paths = viper.GetStringSlice("guard.allowlist.paths")
		rules.Blocklist.Commands = viper.GetStringSlice("guard.blocklist.commands")
	}

	if strings.TrimSpace(rules.WorkspaceRoot) == "" {
		rules.WorkspaceRoot = viper.GetString("guard.workspace_root")
	}
	rules.WorkspaceRoot = pathutil.ExpandHomePath(rules.WorkspaceRoot)
	return rules
}

func channelFromViper(log *slog.Logger) (notify.Channel, error) {
	name := strings.ToLower(strings.TrimSpace(viper.GetString("notify.channel")))
	switch name {
	case "", "noop":
		return notify.NewNoopChannel(log), nil
	case "pushover":
		return notify.NewPushoverChannel(
			viper.GetString("notify.pushover.token"),
			viper.GetString("notify.pushover.user_key"),
			notify.WithPushoverLogger(log),
		)
	case "telegram":
		return notify.NewTelegramChannel(
			viper.GetString("notify.telegram.bot_token"),
			viper.GetInt64("notify.telegram.chat_id"),
			notify.WithTelegramLogger(log),
		)
	default:
		return nil, fmt.Errorf("unknown notify channel: %q", name)
	}
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ""
	}
	return filepath.Join(home, ".clawshell", name)
}
