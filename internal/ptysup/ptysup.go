// Package ptysup is the PTY Supervisor (C5): spawns one AI-assistant child
// process per agent inside a pseudo-terminal, parses its terminal stream for
// completion markers and approval prompts, and drives the approval
// micro-protocol. Grounded on the teacher's docker.go concurrent-drain
// discipline (two goroutines draining stdout/stderr via io.Copy into a
// buffer, synchronized with sync.WaitGroup) and on the PTY plumbing shown in
// _examples/other_examples/f821371e_re-cinq-detergent (pty.Open +
// io.Copy, ignoring the EIO a PTY returns on child exit).
package ptysup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/andywolf/agentfleet/internal/approval"
)

// ringBufferSize is the tail window kept of raw terminal output, per
// spec.md §4.5.
const ringBufferSize = approval.MaxPromptWindow

// DefaultCols/DefaultRows are the default terminal dimensions (spec.md §4.5).
const (
	DefaultCols = 120
	DefaultRows = 40
)

// postSendTimeout is how long the supervisor waits after sending an
// approval response before retrying with a fallback keystroke.
const postSendTimeout = 3 * time.Second

// ApprovalState tracks where an instance is in the approval micro-protocol.
type ApprovalState string

const (
	ApprovalNone    ApprovalState = "none"
	ApprovalWaiting ApprovalState = "waiting"
	ApprovalSent    ApprovalState = "sent"
)

// Handlers are the callbacks the Agent Manager (C6) registers to bridge PTY
// signals into persisted events. Exactly one Handlers value is registered
// per instance at spawn time, and invoked synchronously from the instance's
// own reader goroutine (OnExit from its wait goroutine) — handlers must not
// block.
type Handlers struct {
	OnOutput             func(chunk []byte)
	OnTasksCompleted      func()
	OnApprovalRequested   func(requestID, command string, flags approval.Flags, context string)
	OnApprovalAutoDenied  func(requestID, command string)
	OnApprovalAutoApproved func(requestID, command string)
	OnExit                func(exitCode int, signal string)
	OnError               func(err error)
}

// SpawnOptions configures one child process.
type SpawnOptions struct {
	BinaryOverride string // $AGENTFLEET_ASSISTANT_BIN, resolved by the caller
	WorkDir        string
	Prompt         string
	Cols, Rows     int
}

// Instance is one live PTY-attached child process.
type Instance struct {
	cmd  *exec.Cmd
	ptmx *os.File

	handlers Handlers
	workDir  string

	mu            sync.Mutex
	ring          []byte
	approvalState ApprovalState
	pendingCmd    string
	pendingUI     approval.UIKind
	pendingReqID  string
	lastSend      time.Time
	retried       bool
	tasksSeen     bool
	exited        bool

	reqSeq int

	done chan struct{}
}

// candidateBinaryPaths is the fixed list of absolute install locations
// checked after the environment override and before falling back to PATH,
// per spec.md §4.5 / SPEC_FULL.md §4.5.
func candidateBinaryPaths() []string {
	home, _ := os.UserHomeDir()
	paths := []string{
		"/usr/local/bin/claude",
		"/opt/homebrew/bin/claude",
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".claude", "local", "claude"))
	}
	return paths
}

// resolveBinary implements the discovery order: env override, fixed
// candidate list, then $PATH.
func resolveBinary(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		return "", fmt.Errorf("ptysup: AGENTFLEET_ASSISTANT_BIN=%q is not accessible", override)
	}
	for _, p := range candidateBinaryPaths() {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	if p, err := exec.LookPath("claude"); err == nil {
		return p, nil
	}
	return "", errors.New("ptysup: could not locate the assistant binary (checked override, fixed paths, $PATH)")
}

// Spawn starts a new child process attached to a fresh PTY, in "accept
// edits" permission mode, with the initial prompt as a command-line
// argument. The returned Instance is live; its reader goroutine invokes h's
// callbacks until the child exits or Kill is called.
func Spawn(opts SpawnOptions, h Handlers) (*Instance, error) {
	bin, err := resolveBinary(opts.BinaryOverride)
	if err != nil {
		return nil, err
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}

	cmd := exec.Command(bin, "--permission-mode", "acceptEdits", opts.Prompt)
	cmd.Dir = opts.WorkDir

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("ptysup: starting %s: %w", bin, err)
	}

	inst := &Instance{
		cmd:           cmd,
		ptmx:          ptmx,
		handlers:      h,
		workDir:       opts.WorkDir,
		approvalState: ApprovalNone,
		done:          make(chan struct{}),
	}

	go inst.readLoop()
	go inst.wait()

	return inst, nil
}

// PID returns the child process id.
func (i *Instance) PID() int {
	if i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Resize changes the PTY's terminal dimensions.
func (i *Instance) Resize(cols, rows int) error {
	return pty.Setsize(i.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Write sends raw bytes to the child's stdin (the PTY master).
func (i *Instance) Write(data []byte) error {
	_, err := i.ptmx.Write(data)
	return err
}

// Kill terminates the child process.
func (i *Instance) Kill() error {
	if i.cmd.Process == nil {
		return nil
	}
	return i.cmd.Process.Kill()
}

// OutputTail returns a copy of the current ring-buffer tail.
func (i *Instance) OutputTail() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]byte, len(i.ring))
	copy(out, i.ring)
	return out
}

// ProcessApproval is the external approval injection point (spec.md §4.5):
// valid only while the instance is waiting on a human decision. uiKindOverride,
// if non-empty, replaces the stored UI kind for correctness when the UI
// changed shape between detection and decision.
func (i *Instance) ProcessApproval(approved bool, uiKindOverride approval.UIKind) error {
	i.mu.Lock()

	if i.approvalState != ApprovalWaiting {
		i.mu.Unlock()
		return fmt.Errorf("ptysup: ProcessApproval called while approvalState=%s, want waiting", i.approvalState)
	}

	kind := i.pendingUI
	if uiKindOverride != "" {
		kind = uiKindOverride
	}

	resp := approval.DenyResponse(kind)
	if approved {
		resp = approval.ApproveResponse(kind)
	}
	if _, err := i.ptmx.Write([]byte(resp)); err != nil {
		i.mu.Unlock()
		return fmt.Errorf("ptysup: writing approval response: %w", err)
	}

	i.approvalState = ApprovalSent
	i.lastSend = time.Now()
	i.retried = false
	i.mu.Unlock()

	i.scheduleRetryTimeout()
	return nil
}

func (i *Instance) wait() {
	err := i.cmd.Wait()
	close(i.done)

	exitCode := 0
	signal := ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				signal = ws.Signal().String()
			}
		} else {
			exitCode = -1
		}
	}

	i.mu.Lock()
	i.exited = true
	i.mu.Unlock()

	if i.handlers.OnExit != nil {
		i.handlers.OnExit(exitCode, signal)
	}
}

// readLoop drains the PTY master into the ring buffer and drives the
// approval state machine, one chunk at a time.
func (i *Instance) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := i.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			i.handleChunk(chunk)
		}
		if err != nil {
			// A PTY master returns EIO once the child exits and closes its
			// slave end; that is expected, not a failure to surface.
			var pathErr *os.PathError
			if errors.As(err, &pathErr) && pathErr.Err == syscall.EIO {
				return
			}
			if err == io.EOF {
				return
			}
			if i.handlers.OnError != nil {
				i.handlers.OnError(fmt.Errorf("ptysup: reading output: %w", err))
			}
			return
		}
	}
}

func (i *Instance) handleChunk(chunk []byte) {
	i.mu.Lock()
	i.ring = appendTail(i.ring, chunk, ringBufferSize)
	tail := string(i.ring)
	i.mu.Unlock()

	if i.handlers.OnOutput != nil {
		i.handlers.OnOutput(chunk)
	}

	if !i.tasksSeen && approval.ExactLineMatch(string(chunk), "TASKS_COMPLETED") {
		i.mu.Lock()
		i.tasksSeen = true
		i.mu.Unlock()
		if i.handlers.OnTasksCompleted != nil {
			i.handlers.OnTasksCompleted()
		}
	}

	i.mu.Lock()
	state := i.approvalState
	i.mu.Unlock()

	switch state {
	case ApprovalSent:
		i.settlePostSend(string(chunk), tail)
	case ApprovalNone:
		i.detectNewPrompt(tail)
	}
}

// scheduleRetryTimeout arms the timer-backed counterpart to settlePostSend's
// chunk-driven check. settlePostSend only re-evaluates when a new chunk
// arrives; a child that goes silent while still showing the prompt — the
// case the 3s fallback exists for — would otherwise never get it. The timer
// fires unconditionally postSendTimeout after the send and is a no-op if
// the chunk-driven path (or a later send) already handled it.
func (i *Instance) scheduleRetryTimeout() {
	time.AfterFunc(postSendTimeout, i.checkRetryTimeout)
}

func (i *Instance) checkRetryTimeout() {
	i.mu.Lock()
	if i.exited || i.approvalState != ApprovalSent || i.retried {
		i.mu.Unlock()
		return
	}
	tail := string(i.ring)
	kind := i.pendingUI
	i.mu.Unlock()

	if !approval.StillShowingPrompt(tail) {
		return
	}

	fallback := approval.FallbackResponse(kind)
	_, _ = i.ptmx.Write([]byte(fallback))

	i.mu.Lock()
	i.retried = true
	i.mu.Unlock()
}

// settlePostSend implements spec.md §4.5 step 4: once the response has been
// sent, if the prompt is gone the child accepted it; otherwise, once
// postSendTimeout has elapsed, send one fallback keystroke and mark
// retried. This chunk-driven path is the fast path (it settles ApprovalNone
// as soon as the prompt disappears without waiting on the timer); the timer
// armed by scheduleRetryTimeout is what actually guarantees the fallback
// fires even if the child produces no further output.
func (i *Instance) settlePostSend(chunk, tail string) {
	if !approval.StillShowingPrompt(chunk) && !approval.StillShowingPrompt(tail) {
		i.mu.Lock()
		i.approvalState = ApprovalNone
		i.pendingCmd = ""
		i.pendingUI = ""
		i.mu.Unlock()
		return
	}

	i.mu.Lock()
	elapsed := time.Since(i.lastSend)
	retried := i.retried
	kind := i.pendingUI
	i.mu.Unlock()

	if elapsed >= postSendTimeout && !retried {
		fallback := approval.FallbackResponse(kind)
		_, _ = i.ptmx.Write([]byte(fallback))
		i.mu.Lock()
		i.retried = true
		i.mu.Unlock()
	}
}

// detectNewPrompt implements spec.md §4.5 step 5.
func (i *Instance) detectNewPrompt(tail string) {
	found, kind, command := approval.DetectPrompt(tail)
	if !found {
		return
	}

	i.mu.Lock()
	i.reqSeq++
	reqID := fmt.Sprintf("req-%d", i.reqSeq)
	i.pendingCmd = command
	i.pendingUI = kind
	i.pendingReqID = reqID
	i.mu.Unlock()

	decision := approval.ClassifyCommand(command)
	flags := approval.AnnotateCommand(command, i.workDir)

	switch decision {
	case approval.Blocklist:
		_, _ = i.ptmx.Write([]byte(approval.DenyResponse(kind)))
		i.mu.Lock()
		i.approvalState = ApprovalSent
		i.lastSend = time.Now()
		i.retried = false
		i.mu.Unlock()
		i.scheduleRetryTimeout()
		if i.handlers.OnApprovalAutoDenied != nil {
			i.handlers.OnApprovalAutoDenied(reqID, command)
		}
	case approval.ApprovalRequired:
		i.mu.Lock()
		i.approvalState = ApprovalWaiting
		i.mu.Unlock()
		if i.handlers.OnApprovalRequested != nil {
			ctx := tail
			if len(ctx) > approval.ContextBytes {
				ctx = ctx[len(ctx)-approval.ContextBytes:]
			}
			i.handlers.OnApprovalRequested(reqID, command, flags, ctx)
		}
	case approval.AutoApprove:
		_, _ = i.ptmx.Write([]byte(approval.ApproveResponse(kind)))
		i.mu.Lock()
		i.approvalState = ApprovalSent
		i.lastSend = time.Now()
		i.retried = false
		i.mu.Unlock()
		i.scheduleRetryTimeout()
		if i.handlers.OnApprovalAutoApproved != nil {
			i.handlers.OnApprovalAutoApproved(reqID, command)
		}
	}
}

func appendTail(ring, chunk []byte, max int) []byte {
	ring = append(ring, chunk...)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}
