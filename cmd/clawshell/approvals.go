package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/polucas/clawshell/approval"
	"github.com/polucas/clawshell/internal/clifmt"
	"github.com/polucas/clawshell/internal/strutil"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve pending approvals on a running daemon",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := daemonDo(http.MethodGet, "/approvals", http.StatusOK)
		if err != nil {
			return err
		}
		var snaps []approval.Snapshot
		if err := json.Unmarshal(body, &snaps); err != nil {
			return fmt.Errorf("decode daemon response: %w", err)
		}
		if len(snaps) == 0 {
			fmt.Println(clifmt.Dim("no pending approvals"))
			return nil
		}
		for _, s := range snaps {
			age := time.Since(s.CreatedAt).Round(time.Second)
			fmt.Printf("%s  %s  %s\n", clifmt.Key(s.ID), clifmt.RiskLevel(string(s.RiskLevel)), clifmt.Dim(age.String()))
			fmt.Printf("  %s\n", strutil.PreviewLine(s.Command, 120))
		}
		return nil
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveRemote(args[0], "approve")
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveRemote(args[0], "reject")
	},
}

func init() {
	approvalsCmd.PersistentFlags().String("addr", defaultServeAddr, "daemon address")
	_ = viper.BindPFlag("serve.addr", approvalsCmd.PersistentFlags().Lookup("addr"))
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)
}

func resolveRemote(id, action string) error {
	path := "/approvals/" + url.PathEscape(id) + "/" + action
	if _, err := daemonDo(http.MethodPost, path, http.StatusOK); err != nil {
		return err
	}
	fmt.Println(clifmt.Success(fmt.Sprintf("%s %sd", id, action)))
	return nil
}

func daemonDo(method, path string, wantStatus int) ([]byte, error) {
	addr := viper.GetString("serve.addr")
	if addr == "" {
		addr = defaultServeAddr
	}
	req, err := http.NewRequest(method, "http://"+addr+path, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon at %s unreachable: %w", addr, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != wantStatus {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("daemon: %s", e.Error)
		}
		return nil, fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return body, nil
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent gate outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit := viper.GetInt("history.limit")
		if limit < 1 {
			limit = 20
		}
		body, err := daemonDo(http.MethodGet, fmt.Sprintf("/history?limit=%d", limit), http.StatusOK)
		if err != nil {
			return err
		}
		var entries []approval.HistoryEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return fmt.Errorf("decode daemon response: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println(clifmt.Dim("no history"))
			return nil
		}
		for _, e := range entries {
			verdict := clifmt.Warn(string(e.Status))
			if e.Approved {
				verdict = clifmt.Success(string(e.Status))
			}
			fmt.Printf("%s  %s  %s  %s\n",
				e.ResolvedAt.Local().Format("2006-01-02 15:04:05"),
				verdict,
				clifmt.Dim(e.DecidedBy),
				strutil.PreviewLine(e.Command, 100),
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum entries to show")
	_ = viper.BindPFlag("history.limit", historyCmd.Flags().Lookup("limit"))
}
