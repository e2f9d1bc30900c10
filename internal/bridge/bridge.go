// Package bridge owns the MCP child process and speaks newline-delimited
// JSON-RPC 2.0 to it over stdio.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
	"github.com/phildougherty/mcp-trader-bridge/internal/protocol"
)

// Child is the process the bridge talks to. runtime.Process satisfies it;
// tests use in-memory pipes.
type Child interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
	Stop() error
	Pid() int
	StartedAt() time.Time
}

// Options configures a bridge.
type Options struct {
	Timings Timings
	// ReadyMatcher is applied to the current stderr line, whether or not
	// it is terminated yet. Nil means handshake immediately after Start.
	ReadyMatcher    ReadyMatcher
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	// FailPendingOnExit fails in-flight calls with ErrChildExited as soon as
	// the child exits instead of leaving them to their own timeouts.
	FailPendingOnExit bool
	Logger            *logging.Logger
	Observer          Observer
}

// DefaultOptions returns options matching the Python mcp-trader server.
func DefaultOptions() Options {

	return Options{
		Timings:           DefaultTimings(),
		ReadyMatcher:      SubstringMatcher(constants.DefaultReadySignal),
		ProtocolVersion:   constants.DefaultProtocolVersion,
		ClientName:        constants.DefaultClientName,
		ClientVersion:     constants.DefaultClientVersion,
		FailPendingOnExit: true,
	}
}

// Status is a snapshot of the bridge flags.
type Status struct {
	State        State
	Ready        bool
	Initialized  bool
	Pending      int
	Pid          int
	StartedAt    time.Time
	ExitErr      error
	HandshakeErr error
}

type callResult struct {
	resp *protocol.Response
	err  error
}

type pendingCall struct {
	method string
	ch     chan callResult
}

// Bridge correlates JSON-RPC requests written to the child with the
// responses it prints on stdout.
type Bridge struct {
	child    Child
	opts     Options
	logger   *logging.Logger
	observer Observer

	writeMu sync.Mutex

	mu           sync.Mutex
	pending      map[int64]*pendingCall
	nextID       int64
	state        State
	ready        bool
	initialized  bool
	started      bool
	closed       bool
	exitErr      error
	handshakeErr error

	handshakeOnce sync.Once
	readyCh       chan struct{}
	doneCh        chan struct{}
	doneOnce      sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wraps an already spawned child. Nothing is read until Start.
func New(child Child, opts Options) (*Bridge, error) {
	if child == nil {
		return nil, fmt.Errorf("child process is required")
	}
	if opts.Timings.InitializeTimeout <= 0 {
		opts.Timings.InitializeTimeout = constants.InitializeTimeout
	}
	if opts.Timings.ToolCallTimeout <= 0 {
		opts.Timings.ToolCallTimeout = constants.ToolCallTimeout
	}
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = constants.DefaultProtocolVersion
	}
	if opts.ClientName == "" {
		opts.ClientName = constants.DefaultClientName
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = constants.DefaultClientVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(constants.DefaultLogLevel)
	}
	observer := opts.Observer
	if observer == nil {
		observer = Observers(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		child:    child,
		opts:     opts,
		logger:   logger,
		observer: observer,
		pending:  make(map[int64]*pendingCall),
		state:    StateStarting,
		readyCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins reading the child's streams and watching for its exit.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()

		return fmt.Errorf("bridge already started")
	}
	b.started = true
	b.mu.Unlock()

	b.logger.Info("MCP bridge attached to child process (pid %d)", b.child.Pid())
	b.setState(StateAwaitingHandshake)

	b.wg.Add(3)
	go b.readStdout()
	go b.readStderr()
	go b.waitExit()

	if b.opts.ReadyMatcher == nil {
		b.triggerHandshake()
	}

	return nil
}

// Ready is closed once the handshake has completed.
func (b *Bridge) Ready() <-chan struct{} {

	return b.readyCh
}

// Done is closed when the bridge can no longer become ready.
func (b *Bridge) Done() <-chan struct{} {

	return b.doneCh
}

// WaitReady blocks until the bridge is ready, fails, or ctx ends.
func (b *Bridge) WaitReady(ctx context.Context) error {
	select {
	case <-b.readyCh:
		return nil
	case <-b.doneCh:
		st := b.Status()
		if st.HandshakeErr != nil {
			return fmt.Errorf("MCP handshake failed: %w", st.HandshakeErr)
		}

		return ErrChildExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the bridge state.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Status{
		State:        b.state,
		Ready:        b.ready,
		Initialized:  b.initialized,
		Pending:      len(b.pending),
		Pid:          b.child.Pid(),
		StartedAt:    b.child.StartedAt(),
		ExitErr:      b.exitErr,
		HandshakeErr: b.handshakeErr,
	}
}

// CallTool sends tools/call and waits for the correlated response. A
// JSON-RPC error from the server is returned inside the response, not as err.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.Response, error) {
	start := time.Now()

	b.mu.Lock()
	ready, initialized := b.ready, b.initialized
	b.mu.Unlock()
	if !ready || !initialized {
		err := &NotReadyError{Ready: ready, Initialized: initialized}
		b.observer.ToolCallCompleted(ToolCallEvent{Tool: name, Outcome: OutcomeNotReady, Err: err})

		return nil, err
	}

	b.logger.Info("Calling MCP tool: %s", name)
	id, resp, err := b.roundTrip(ctx, protocol.MethodToolsCall, protocol.NewToolCallParams(name, args), b.opts.Timings.ToolCallTimeout)

	ev := ToolCallEvent{ID: id, Tool: name, Duration: time.Since(start), Err: err}
	switch {
	case err == nil && resp.IsError():
		ev.Outcome = OutcomeRPCError
	case err == nil:
		ev.Outcome = OutcomeSuccess
	case errors.Is(err, errRequestTimeout):
		err = &ToolTimeoutError{Tool: name, Timeout: b.opts.Timings.ToolCallTimeout}
		ev.Outcome, ev.Err = OutcomeTimeout, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ev.Outcome = OutcomeCanceled
	default:
		ev.Outcome = OutcomeFailed
	}
	b.observer.ToolCallCompleted(ev)

	if err != nil {
		b.logger.Error("MCP tool %s failed: %v", name, err)

		return nil, err
	}

	return resp, nil
}

// Close stops the child, fails every pending call and waits for the
// reader goroutines.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return nil
	}
	b.closed = true
	started := b.started
	b.mu.Unlock()

	b.cancel()
	err := b.child.Stop()
	b.failPending(ErrClosed)
	if started {
		b.wg.Wait()
	}
	b.markDone()

	return err
}

func (b *Bridge) triggerHandshake() {
	b.handshakeOnce.Do(func() {
		b.wg.Add(1)
		go b.performHandshake()
	})
}

func (b *Bridge) performHandshake() {
	defer b.wg.Done()

	t := b.opts.Timings
	if err := sleepContext(b.ctx, t.HandshakeDelay); err != nil {
		return
	}

	b.logger.Info("Starting MCP initialization handshake...")
	if !b.transition(StateAwaitingHandshake, StateHandshaking) {
		return
	}

	if err := b.initialize(b.ctx); err != nil {
		b.failHandshake(err)

		return
	}
	b.logger.Info("MCP initialization completed")

	if err := sleepContext(b.ctx, t.PostInitializeDelay); err != nil {
		return
	}

	if err := b.sendInitializedNotification(b.ctx); err != nil {
		b.failHandshake(err)

		return
	}
	b.logger.Info("MCP initialized notification sent")

	b.mu.Lock()
	if b.state != StateInitialized {
		b.mu.Unlock()

		return
	}
	b.ready = true
	b.state = StateReady
	b.mu.Unlock()
	b.observer.StateChanged(StateInitialized, StateReady)
	close(b.readyCh)

	b.logger.Info("MCP handshake completed successfully - ready for tool calls")
}

func (b *Bridge) initialize(ctx context.Context) error {
	b.logger.Info("Sending initialization request...")
	params := protocol.InitializeParams(b.opts.ProtocolVersion, b.opts.ClientName, b.opts.ClientVersion)
	_, resp, err := b.roundTrip(ctx, protocol.MethodInitialize, params, b.opts.Timings.InitializeTimeout)
	if err != nil {
		if errors.Is(err, errRequestTimeout) {
			return ErrHandshakeTimeout
		}

		return fmt.Errorf("initialize request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("initialize rejected: %w", resp.Error)
	}

	b.mu.Lock()
	if b.state != StateHandshaking {
		b.mu.Unlock()

		return ErrChildExited
	}
	b.initialized = true
	b.state = StateInitialized
	b.mu.Unlock()
	b.observer.StateChanged(StateHandshaking, StateInitialized)

	return nil
}

func (b *Bridge) sendInitializedNotification(ctx context.Context) error {
	b.logger.Info("Sending initialized notification...")
	if err := b.write(protocol.NewNotification(protocol.MethodNotificationInitialized, nil)); err != nil {
		return err
	}

	return sleepContext(ctx, b.opts.Timings.NotificationSettleDelay)
}

func (b *Bridge) failHandshake(err error) {
	b.logger.Error("MCP handshake failed: %v", err)

	b.mu.Lock()
	if b.state.Terminal() {
		b.mu.Unlock()

		return
	}
	from := b.state
	b.state = StateFailed
	b.ready = false
	b.handshakeErr = err
	b.mu.Unlock()

	b.observer.StateChanged(from, StateFailed)
	b.markDone()
}

// roundTrip registers a pending entry, writes the request and waits for the
// correlated response, the timeout, or ctx.
func (b *Bridge) roundTrip(ctx context.Context, method string, params interface{}, timeout time.Duration) (int64, *protocol.Response, error) {
	call := &pendingCall{method: method, ch: make(chan callResult, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return 0, nil, ErrClosed
	}
	if b.state == StateExited {
		b.mu.Unlock()

		return 0, nil, ErrChildExited
	}
	b.nextID++
	id := b.nextID
	b.pending[id] = call
	n := len(b.pending)
	b.mu.Unlock()
	b.observer.PendingChanged(n)

	if err := b.write(protocol.NewRequest(id, method, params)); err != nil {
		b.removePending(id)

		return id, nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.ch:
		return id, res.resp, res.err
	case <-timer.C:
		b.removePending(id)
		b.logger.Warning("Request %d (%s) timed out after %s", id, method, timeout)

		return id, nil, errRequestTimeout
	case <-ctx.Done():
		b.removePending(id)

		return id, nil, ctx.Err()
	}
}

func (b *Bridge) removePending(id int64) {
	b.mu.Lock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	n := len(b.pending)
	b.mu.Unlock()
	if ok {
		b.observer.PendingChanged(n)
	}
}

func (b *Bridge) write(msg interface{}) error {
	data, err := protocol.Frame(msg)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if _, err := b.child.Stdin().Write(data); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	return nil
}

func (b *Bridge) readStdout() {
	defer b.wg.Done()

	reader := bufio.NewReaderSize(b.child.Stdout(), constants.StdoutReaderBufferSize)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			b.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && b.ctx.Err() == nil {
				b.logger.Error("Error reading MCP stdout: %v", err)
			}

			return
		}
	}
}

func (b *Bridge) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	resp, err := protocol.ParseLine(line)
	if err != nil {
		b.logger.Debug("Non-JSON MCP output: %s", string(line))
		b.observer.MalformedLine(string(line))

		return
	}
	b.logger.Debug("MCP stdout: %s", string(line))

	id, ok := resp.NumericID()
	if !ok {
		return
	}

	b.mu.Lock()
	call, found := b.pending[id]
	delete(b.pending, id)
	n := len(b.pending)
	b.mu.Unlock()
	if !found {
		b.logger.Debug("Ignoring response for unknown request id %d", id)

		return
	}
	b.observer.PendingChanged(n)

	call.ch <- callResult{resp: resp}
}

// readStderr matches the ready signal against the current, possibly
// unterminated, line so a signal written without a newline is still seen.
func (b *Bridge) readStderr() {
	defer b.wg.Done()

	buf := make([]byte, constants.StderrChunkSize)
	var partial []byte
	for {
		n, err := b.child.Stderr().Read(buf)
		if n > 0 {
			partial = append(partial, buf[:n]...)
			if b.opts.ReadyMatcher != nil && b.opts.ReadyMatcher(string(partial)) {
				b.onReadySignal()
			}
			partial = b.logStderrLines(partial)
			if len(partial) > constants.StdoutReaderBufferSize {
				b.logger.Debug("MCP stderr: %s", string(partial))
				partial = partial[:0]
			}
		}
		if err != nil {
			if text := strings.TrimRight(string(partial), "\r\n"); text != "" {
				b.logger.Debug("MCP stderr: %s", text)
			}

			return
		}
	}
}

// logStderrLines logs every complete line and returns the unterminated rest.
func (b *Bridge) logStderrLines(data []byte) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return data
		}
		if text := strings.TrimRight(string(data[:i]), "\r"); text != "" {
			b.logger.Debug("MCP stderr: %s", text)
		}
		data = data[i+1:]
	}
}

func (b *Bridge) onReadySignal() {
	b.mu.Lock()
	waiting := b.state == StateAwaitingHandshake
	b.mu.Unlock()
	if !waiting {
		return
	}

	b.handshakeOnce.Do(func() {
		b.logger.Info("MCP Python server ready, performing handshake...")
		b.wg.Add(1)
		go b.performHandshake()
	})
}

func (b *Bridge) waitExit() {
	defer b.wg.Done()

	err := b.child.Wait()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return
	}
	from := b.state
	b.state = StateExited
	b.ready = false
	b.initialized = false
	b.exitErr = err
	b.mu.Unlock()

	if err != nil {
		b.logger.Error("MCP process exited: %v", err)
	} else {
		b.logger.Warning("MCP process exited")
	}
	b.observer.StateChanged(from, StateExited)

	if b.opts.FailPendingOnExit {
		b.failPending(ErrChildExited)
	}
	b.cancel()
	b.markDone()
}

func (b *Bridge) failPending(err error) {
	b.mu.Lock()
	calls := b.pending
	b.pending = make(map[int64]*pendingCall)
	b.mu.Unlock()
	if len(calls) == 0 {
		return
	}

	for _, call := range calls {
		call.ch <- callResult{err: err}
	}
	b.observer.PendingChanged(0)
}

func (b *Bridge) setState(to State) {
	b.mu.Lock()
	from := b.state
	b.state = to
	b.mu.Unlock()

	if from != to {
		b.observer.StateChanged(from, to)
	}
}

// transition moves from -> to only if the bridge is still in from.
func (b *Bridge) transition(from, to State) bool {
	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()

		return false
	}
	b.state = to
	b.mu.Unlock()
	b.observer.StateChanged(from, to)

	return true
}

func (b *Bridge) markDone() {
	b.doneOnce.Do(func() {
		close(b.doneCh)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
