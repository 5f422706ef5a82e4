// Package main implements the loopctl CLI for operating improvement
// loops through the promptloopd control surface.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/promptloop/internal/loop"
)

var (
	// serverURL is the base URL for the promptloopd control surface.
	serverURL string
	version   = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "loopctl",
	Short:   "CLI for prompt-improvement loop operations",
	Long:    `loopctl starts, controls and inspects improvement loops via the promptloopd server.`,
	Version: version,
}

var startFlags = struct {
	project     string
	suite       string
	prompt      string
	strategy    string
	trigger     string
	iterations  int
	threshold   float64
	signalTypes []string
	windowHours int
}{}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8420", "promptloopd server URL")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(signalCmd)

	startCmd.Flags().StringVar(&startFlags.project, "project", "", "project ID (required)")
	startCmd.Flags().StringVar(&startFlags.suite, "suite", "", "eval suite ID")
	startCmd.Flags().StringVar(&startFlags.prompt, "prompt", "", "prompt ID (required)")
	startCmd.Flags().StringVar(&startFlags.strategy, "strategy", "few-shot", "optimization strategy")
	startCmd.Flags().StringVar(&startFlags.trigger, "trigger", "manual", "what triggered this loop")
	startCmd.Flags().IntVar(&startFlags.iterations, "max-iterations", 0, "iteration ceiling (0 = server default)")
	startCmd.Flags().Float64Var(&startFlags.threshold, "threshold", 0, "improvement threshold (0 = server default)")
	startCmd.Flags().StringSliceVar(&startFlags.signalTypes, "signal-types", []string{"thumbs_down", "correction"}, "feedback signal types to collect")
	startCmd.Flags().IntVar(&startFlags.windowHours, "window-hours", 24, "feedback collection window in hours")
	_ = startCmd.MarkFlagRequired("project")
	_ = startCmd.MarkFlagRequired("prompt")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start an improvement loop",
	Example: `  loopctl start --project acme --prompt support-triage --max-iterations 3
  loopctl start --project acme --prompt summarizer --signal-types thumbs_down --window-hours 48`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status <loop-id>",
	Short: "Show the current state of a running loop",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var signalCmd = &cobra.Command{
	Use:       "signal <loop-id> <kind>",
	Short:     "Send a control signal to a running loop",
	Long:      `Send one of: pause, resume, abort, skip, approve, reject.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"pause", "resume", "abort", "skip", "approve", "reject"},
	RunE:      runSignal,
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func runStart(cmd *cobra.Command, _ []string) error {
	now := time.Now()
	input := loop.LoopInput{
		ProjectID:            startFlags.project,
		SuiteID:              startFlags.suite,
		PromptID:             startFlags.prompt,
		Strategy:             startFlags.strategy,
		Trigger:              startFlags.trigger,
		MaxIterations:        startFlags.iterations,
		ImprovementThreshold: startFlags.threshold,
		SignalTypes:          startFlags.signalTypes,
		TimeWindow: loop.TimeWindow{
			Start: now.Add(-time.Duration(startFlags.windowHours) * time.Hour),
			End:   now,
		},
	}

	body, err := json.Marshal(input)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+"/api/v1/loops", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("starting loop: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return httpError("start", resp)
	}

	var started struct {
		LoopID string `json:"loopId"`
		RunID  string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "started loop %s (run %s)\n", started.LoopID, started.RunID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := httpClient().Get(fmt.Sprintf("%s/api/v1/loops/%s/status", serverURL, args[0]))
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError("status", resp)
	}

	var state loop.LoopState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loop:       %s\n", state.LoopID)
	fmt.Fprintf(out, "iteration:  %d/%d\n", state.CurrentIteration, state.MaxIterations)
	fmt.Fprintf(out, "stage:      %s\n", state.Stage)
	fmt.Fprintf(out, "paused:     %t\n", state.IsPaused)
	fmt.Fprintf(out, "review:     %t\n", state.PendingApproval)
	if state.BaselineScore != nil {
		fmt.Fprintf(out, "baseline:   %.4f\n", *state.BaselineScore)
	}
	fmt.Fprintf(out, "history:\n")
	for _, rec := range state.History {
		var metrics []string
		for k, v := range rec.Metrics {
			metrics = append(metrics, fmt.Sprintf("%s=%.4g", k, v))
		}
		fmt.Fprintf(out, "  %-11s %-10s %s\n", rec.Stage, rec.Status, strings.Join(metrics, " "))
	}
	return nil
}

func runSignal(cmd *cobra.Command, args []string) error {
	loopID, kind := args[0], args[1]
	resp, err := httpClient().Post(fmt.Sprintf("%s/api/v1/loops/%s/signals/%s", serverURL, loopID, kind), "application/json", nil)
	if err != nil {
		return fmt.Errorf("sending signal: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return httpError("signal", resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s delivered to %s\n", kind, loopID)
	return nil
}

func httpError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s failed: %s: %s", op, resp.Status, strings.TrimSpace(string(body)))
}
