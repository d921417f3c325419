package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServeAddr = "127.0.0.1:8791"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gate as an HTTP daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		deps, err := gateFromViper(log)
		if err != nil {
			return err
		}
		defer deps.Close()

		addr := viper.GetString("serve.addr")
		if addr == "" {
			addr = defaultServeAddr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           newDaemonMux(deps, log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info("daemon_listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info("daemon_shutting_down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", defaultServeAddr, "listen address")
	_ = viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}

type commandRequest struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir,omitempty"`
}

type commandResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// newDaemonMux wires the daemon's HTTP surface. POST /commands blocks until
// the gated command resolves, so high-risk submissions hold their connection
// open for the length of the approval wait.
func newDaemonMux(deps *gateDeps, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /commands", func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		dir := req.WorkingDir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		res, err := deps.gate.Handle(r.Context(), req.Command, dir)
		if err != nil {
			log.Error("handle_error", "error", err.Error())
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, commandResponse{
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		})
	})

	mux.HandleFunc("GET /approvals", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.ledger.List())
	})

	mux.HandleFunc("POST /approvals/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		resolveApproval(w, r, deps, true)
	})

	mux.HandleFunc("POST /approvals/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		resolveApproval(w, r, deps, false)
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		if deps.history == nil {
			writeError(w, http.StatusNotFound, "history is not enabled")
			return
		}
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		entries, err := deps.history.Recent(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return mux
}

func resolveApproval(w http.ResponseWriter, r *http.Request, deps *gateDeps, approve bool) {
	id := r.PathValue("id")
	var ok bool
	if approve {
		ok = deps.ledger.Approve(id)
	} else {
		ok = deps.ledger.Reject(id)
	}
	if !ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("approval %s is unknown or already resolved", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": statusWord(approve)})
}

func statusWord(approve bool) string {
	if approve {
		return "approved"
	}
	return "rejected"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
