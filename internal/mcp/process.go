package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/emailpilot/accountfetch/internal/config"
	apperrors "github.com/emailpilot/accountfetch/pkg/errors"
)

// stopGracePeriod is how long Stop waits for a SIGTERM'd process to exit
// before force-killing it.
const stopGracePeriod = 5 * time.Second

// ServerProcess owns one server child process and its stdio pipes. The wire
// protocol is line-delimited JSON-RPC with no multiplexing, so every
// send/receive cycle holds the process mutex: at most one request is in
// flight per process at any instant.
type ServerProcess struct {
	cfg    config.ServerConfig
	states *StateRegistry
	log    *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	// mu guards the full send/receive cycle and the id counter.
	mu        sync.Mutex
	requestID int64

	stopOnce sync.Once
}

// NewServerProcess creates an unstarted process for the given configuration.
func NewServerProcess(cfg config.ServerConfig, states *StateRegistry, log *slog.Logger) *ServerProcess {
	if log == nil {
		log = slog.Default()
	}
	states.Set(cfg.Name, StateNotStarted)
	return &ServerProcess{cfg: cfg, states: states, log: log}
}

// Name returns the configured display name of the server.
func (p *ServerProcess) Name() string { return p.cfg.Name }

// State returns the current lifecycle state.
func (p *ServerProcess) State() ProcessState { return p.states.Get(p.cfg.Name) }

// Start launches the child process with the merged base environment plus
// the per-server environment, wiring stdin/stdout as pipes. A launch
// failure is fatal for this process and surfaces immediately.
func (p *ServerProcess) Start() error {
	p.states.Set(p.cfg.Name, StateStarting)

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	env := os.Environ()
	for key, value := range p.cfg.Env {
		env = append(env, key+"="+value)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.states.Set(p.cfg.Name, StateFailed)
		return &apperrors.ProcessStartError{Server: p.cfg.Name, Stage: "start", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.states.Set(p.cfg.Name, StateFailed)
		return &apperrors.ProcessStartError{Server: p.cfg.Name, Stage: "start", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.states.Set(p.cfg.Name, StateFailed)
		return &apperrors.ProcessStartError{Server: p.cfg.Name, Stage: "start", Err: err}
	}

	if err := cmd.Start(); err != nil {
		p.states.Set(p.cfg.Name, StateFailed)
		return &apperrors.ProcessStartError{Server: p.cfg.Name, Stage: "start", Err: err}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)

	go p.drainStderr(stderr)

	p.log.Info("started server process", "server", p.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

// Handshake performs the mandatory initialize exchange. A non-success
// response or a pipe closed before the response arrives moves this process
// to the terminal failed state; sibling processes are unaffected.
func (p *ServerProcess) Handshake(ctx context.Context) error {
	p.states.Set(p.cfg.Name, StateHandshaking)

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities: clientCapabilities{
			Roots: &rootsCapability{ListChanged: true},
		},
		ClientInfo: implementation{Name: clientName, Version: clientVersion},
	}

	raw, err := p.roundTrip(ctx, methodInitialize, params)
	if err != nil {
		p.states.Set(p.cfg.Name, StateFailed)
		return &apperrors.ProcessStartError{Server: p.cfg.Name, Stage: "handshake", Err: err}
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err == nil && result.ServerInfo.Name != "" {
		p.log.Info("server initialized", "server", p.cfg.Name,
			"server_name", result.ServerInfo.Name, "server_version", result.ServerInfo.Version)
	} else {
		p.log.Info("server initialized", "server", p.cfg.Name)
	}

	p.states.Set(p.cfg.Name, StateReady)
	return nil
}

// Call issues one tool call and blocks for its response. Calls against the
// same process are strictly serialized; a server-returned error object is
// converted to a ToolCallError carrying the tool name.
func (p *ServerProcess) Call(ctx context.Context, tool string, arguments map[string]any) (json.RawMessage, error) {
	if state := p.states.Get(p.cfg.Name); state != StateReady {
		return nil, fmt.Errorf("server %s in state %s: %w", p.cfg.Name, state, apperrors.ErrServerNotReady)
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	raw, err := p.roundTrip(ctx, methodToolsCall, callParams{Name: tool, Arguments: arguments})
	if err != nil {
		var srvErr *serverError
		if errors.As(err, &srvErr) {
			return nil, &apperrors.ToolCallError{Server: p.cfg.Name, Tool: tool, Message: srvErr.message}
		}
		return nil, err
	}
	return raw, nil
}

// ListTools returns the tools the server advertises.
func (p *ServerProcess) ListTools(ctx context.Context) ([]Tool, error) {
	if state := p.states.Get(p.cfg.Name); state != StateReady {
		return nil, fmt.Errorf("server %s in state %s: %w", p.cfg.Name, state, apperrors.ErrServerNotReady)
	}

	raw, err := p.roundTrip(ctx, methodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools list: %w", err)
	}
	return result.Tools, nil
}

// roundTrip writes one request line and reads exactly one response line
// under the process mutex. The response id must match the request id; any
// other id is a protocol violation and the process is not reused.
func (p *ServerProcess) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		return nil, &apperrors.ProtocolViolation{Server: p.cfg.Name, Reason: "process not started"}
	}

	p.requestID++
	id := p.requestID

	payload, err := json.Marshal(request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := p.stdin.Write(payload); err != nil {
		p.fail()
		return nil, &apperrors.ProtocolViolation{Server: p.cfg.Name, Reason: fmt.Sprintf("write failed: %v", err)}
	}

	line, err := p.readLine(ctx)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		p.fail()
		return nil, &apperrors.ProtocolViolation{Server: p.cfg.Name, Reason: fmt.Sprintf("malformed response line: %v", err)}
	}
	if resp.ID != id {
		p.fail()
		return nil, &apperrors.ProtocolViolation{
			Server: p.cfg.Name,
			Reason: fmt.Sprintf("response id %d does not match request id %d", resp.ID, id),
		}
	}
	if resp.Error != nil {
		return nil, &serverError{code: resp.Error.Code, message: resp.Error.Message}
	}
	return resp.Result, nil
}

// readLine blocks for one response line. Context cancellation abandons the
// read; the protocol has no cancellation frame, so an abandoned process is
// marked failed and must not be reused (a later call could otherwise pair
// with the stale response). The abandoned goroutine exits once the pipe
// closes during Stop.
func (p *ServerProcess) readLine(ctx context.Context) ([]byte, error) {
	type readResult struct {
		line []byte
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := p.stdout.ReadBytes('\n')
		ch <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		p.fail()
		return nil, fmt.Errorf("call abandoned on server %s: %w", p.cfg.Name, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			p.fail()
			if len(r.line) == 0 {
				return nil, &apperrors.ProtocolViolation{Server: p.cfg.Name, Reason: "connection closed before response"}
			}
			return nil, &apperrors.ProtocolViolation{Server: p.cfg.Name, Reason: fmt.Sprintf("read failed: %v", r.err)}
		}
		return r.line, nil
	}
}

func (p *ServerProcess) fail() {
	p.states.Set(p.cfg.Name, StateFailed)
}

// Stop requests graceful termination, waits a short grace period and
// force-kills if needed. Best-effort: failures are logged, never returned.
// Safe to call more than once.
func (p *ServerProcess) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		if p.cmd == nil || p.cmd.Process == nil {
			if p.states.Get(p.cfg.Name) == StateNotStarted {
				return
			}
			p.states.Set(p.cfg.Name, StateStopped)
			return
		}

		failed := p.states.Get(p.cfg.Name) == StateFailed
		if !failed {
			p.states.Set(p.cfg.Name, StateStopping)
		}

		// Closing stdin lets well-behaved servers exit on EOF.
		if err := p.stdin.Close(); err != nil {
			p.log.Debug("failed to close stdin", "server", p.cfg.Name, "error", err)
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.log.Warn("failed to send SIGTERM", "server", p.cfg.Name, "error", err)
		}

		done := make(chan error, 1)
		go func() {
			done <- p.cmd.Wait()
		}()

		select {
		case err := <-done:
			if err != nil {
				p.log.Debug("process exited with error", "server", p.cfg.Name, "error", err)
			} else {
				p.log.Info("process exited gracefully", "server", p.cfg.Name)
			}
		case <-time.After(stopGracePeriod):
			p.killAndReap(done, "grace period expired")
		case <-ctx.Done():
			p.killAndReap(done, "stop context cancelled")
		}

		if !failed {
			p.states.Set(p.cfg.Name, StateStopped)
		}
	})
}

func (p *ServerProcess) killAndReap(done <-chan error, reason string) {
	if err := p.cmd.Process.Kill(); err != nil {
		p.log.Warn("failed to kill process", "server", p.cfg.Name, "reason", reason, "error", err)
		return
	}
	p.log.Warn("process killed", "server", p.cfg.Name, "reason", reason)
	<-done
}

// drainStderr logs the child's stderr lines. Values never include the
// per-server environment, so credentials cannot leak here.
func (p *ServerProcess) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			p.log.Debug("server stderr", "server", p.cfg.Name, "line", line)
		}
	}
}
