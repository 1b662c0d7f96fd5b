package worker

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/ShunsukeHayashi/miyabi-code-sub002/internal/model"
)

// CLIWorker wraps an arbitrary external agent binary (a coding-assistant
// CLI) attached to a pty, so a worker variant can be an interactive
// subprocess rather than only an in-process function. Grounded on the
// teacher's whole reason for existing: running a CLI coding agent as a
// managed subprocess (creack/pty), with its pty kept sized to the host
// terminal the way session/tmux/tmux_attach.go's updateWindowSize does.
type CLIWorker struct {
	Command string
	Args    []string
	Dir     string
}

// AgentType implements Executor.
func (w *CLIWorker) AgentType() Variant { return VariantUser }

// HandleMessage implements Executor; CLIWorker does not react to broadcast
// traffic.
func (w *CLIWorker) HandleMessage(model.Message) *model.Message { return nil }

// Execute runs the configured command with task.Prompt-equivalent content
// (task.Description) piped in, attached to a pty so the child behaves as
// it would in an interactive terminal, and captures its full output.
func (w *CLIWorker) Execute(ctx context.Context, task *model.Task) (model.AgentResult, error) {
	cmd := exec.CommandContext(ctx, w.Command, w.Args...)
	cmd.Dir = w.Dir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed}, err
	}
	defer ptmx.Close()

	stopResize := watchResize(ptmx)
	defer stopResize()

	if _, err := io.WriteString(ptmx, task.Description+"\n"); err != nil {
		return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed}, err
	}

	var out bytes.Buffer
	_, copyErr := io.Copy(&out, ptmx)
	waitErr := cmd.Wait()

	if waitErr != nil {
		return model.AgentResult{
			TaskID: task.ID,
			Status: model.TaskFailed,
			Output: out.String(),
			Err:    waitErr,
		}, waitErr
	}
	if copyErr != nil && copyErr != io.EOF {
		return model.AgentResult{TaskID: task.ID, Status: model.TaskFailed, Output: out.String()}, copyErr
	}

	return model.AgentResult{
		TaskID: task.ID,
		Status: model.TaskCompleted,
		Output: out.String(),
	}, nil
}

// watchResize seeds ptmx's size from the host terminal, if one is attached
// to stdin, and keeps it in sync on every SIGWINCH for the life of the
// subprocess. Returns a stop func to unwind the signal subscription.
func watchResize(ptmx *os.File) (stop func()) {
	resize := func() {
		cols, rows, err := term.GetSize(int(os.Stdin.Fd()))
		if err != nil {
			return
		}
		_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}
	resize()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigCh:
				resize()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
