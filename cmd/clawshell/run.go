package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/polucas/clawshell/internal/clifmt"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command...>",
	Short: "Gate a single shell command and execute it if allowed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		deps, err := gateFromViper(log)
		if err != nil {
			return err
		}
		defer deps.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		command := shellJoin(args)
		dir := viper.GetString("run.dir")
		if dir == "" {
			dir, _ = os.Getwd()
		}

		fmt.Fprintln(os.Stderr, clifmt.Headerf("clawshell"))
		fmt.Fprintf(os.Stderr, "%s %s\n", clifmt.Key("command:"), command)

		res, err := deps.gate.Handle(ctx, command, dir)
		if err != nil {
			return err
		}

		if res.Stdout != "" {
			fmt.Fprint(os.Stdout, res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
			if res.Stderr[len(res.Stderr)-1] != '\n' {
				fmt.Fprintln(os.Stderr)
			}
		}
		if res.ExitCode == 0 {
			fmt.Fprintln(os.Stderr, clifmt.Success("ok"))
		} else {
			fmt.Fprintln(os.Stderr, clifmt.Warn(fmt.Sprintf("exit %d", res.ExitCode)))
			deps.Close()
			os.Exit(res.ExitCode)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("dir", "", "working directory for the command")
	_ = viper.BindPFlag("run.dir", runCmd.Flags().Lookup("dir"))
}

// shellJoin rebuilds a single shell command line from cobra's arg slice.
// Arguments that already contain whitespace are re-quoted so the executor's
// `sh -c` sees the same word boundaries the caller typed.
func shellJoin(args []string) string {
	out := make([]byte, 0, 64)
	for i, a := range args {
		if i > 0 {
			out = append(out, ' ')
		}
		if needsQuote(a) {
			out = append(out, '\'')
			for j := 0; j < len(a); j++ {
				if a[j] == '\'' {
					out = append(out, '\'', '\\', '\'', '\'')
				} else {
					out = append(out, a[j])
				}
			}
			out = append(out, '\'')
		} else {
			out = append(out, a...)
		}
	}
	return string(out)
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\'', '"':
			return true
		}
	}
	return false
}
