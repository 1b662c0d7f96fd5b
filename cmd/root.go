// Package cmd wires the orchestrator's subsystems into a cobra CLI,
// grounded on the teacher's root-command/cobra usage in main.go (flag
// wiring, log.Initialize/Close bracketing, config.LoadConfig at the top of
// every RunE).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/log"
)

const version = "0.1.0"

// Exit codes per SPEC_FULL.md §6.
const (
	ExitSuccess         = 0
	ExitUserError       = 1
	ExitExecutionError  = 2
	ExitUserInterrupted = 130
)

var rootCmd = &cobra.Command{
	Use:   "miyabi",
	Short: "Autonomous sprint orchestrator: DAG-scheduled, worktree-isolated, resource-aware",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("miyabi version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(infinityCmd)
	rootCmd.AddCommand(worktreeCmd)
	rootCmd.AddCommand(reportCmd)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	log.Initialize(false)
	defer log.Close()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		return ExitExecutionError
	}
	return ExitSuccess
}

// exitCoder lets a command's RunE attach a specific exit code to an error,
// distinguishing user error / execution error / user interruption (§6).
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) ExitCode() int { return e.code }
func (e *codedError) Unwrap() error { return e.err }

func userError(err error) error      { return &codedError{code: ExitUserError, err: err} }
func executionError(err error) error { return &codedError{code: ExitExecutionError, err: err} }
func interruptedError(err error) error { return &codedError{code: ExitUserInterrupted, err: err} }
