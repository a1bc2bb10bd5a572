package nodeshell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPromptMarker is the substring the node console prints at
	// the end of every response.
	DefaultPromptMarker = "neo>"

	// DefaultResponseTimeout bounds how long a single command may take
	// before its collected output is returned as-is.
	DefaultResponseTimeout = 10 * time.Second

	// DefaultSettleDelay is how long the shell waits after the open
	// wallet command before answering the passphrase prompt. The
	// prompt itself arrives without a trailing newline, so there is no
	// line event to key off.
	DefaultSettleDelay = time.Second

	// DefaultTailSize is how many console lines are retained for
	// later display.
	DefaultTailSize = 10

	// lineBufferSize is the number of unread console lines buffered
	// between commands before new ones are dropped.
	lineBufferSize = 1024
)

var (
	// ErrNoCommand is returned by Start when no console binary was
	// configured.
	ErrNoCommand = errors.New("no node console command configured")

	// ErrNotStarted is returned when a command is submitted before
	// Start.
	ErrNotStarted = errors.New("node shell not started")

	// ErrShellClosed is returned when the shell was torn down while a
	// command was in flight, or commands are submitted after Close.
	ErrShellClosed = errors.New("node shell closed")

	// ErrResponseTimeout is returned when the console does not print
	// its prompt within the response timeout. Output collected up to
	// that point is still returned.
	ErrResponseTimeout = errors.New("timed out waiting for console prompt")
)

// Config bundles the tunables of a node console shell. The zero value of
// every field other than Command falls back to a sane default.
type Config struct {
	// Command is the console binary and its arguments.
	Command []string

	// PromptMarker marks the end of a response when it appears in an
	// output line.
	PromptMarker string

	// ResponseTimeout bounds a single command round trip.
	ResponseTimeout time.Duration

	// SettleDelay is the pause between the open wallet command and the
	// passphrase answer.
	SettleDelay time.Duration

	// TailSize is the number of recent output lines kept for Tail.
	TailSize int

	// Clock drives the timeouts. Tests swap in a test clock.
	Clock clock.Clock
}

// Shell drives a long-lived interactive node console subprocess. Stdout
// and stderr are merged into a single line stream, commands are written
// to stdin one line at a time and each response is collected until the
// console prints its prompt again.
type Shell struct {
	cfg Config

	started sync.Once
	stopped sync.Once

	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines chan string
	quit  chan struct{}
	eg    errgroup.Group

	// mtx serializes command submission so responses cannot
	// interleave.
	mtx sync.Mutex

	tailMtx sync.Mutex
	tail    []string
}

// NewShell returns a shell for the passed config. Start must be called
// before commands can be submitted.
func NewShell(cfg Config) *Shell {
	if cfg.PromptMarker == "" {
		cfg.PromptMarker = DefaultPromptMarker
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.TailSize <= 0 {
		cfg.TailSize = DefaultTailSize
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Shell{
		cfg:   cfg,
		lines: make(chan string, lineBufferSize),
		quit:  make(chan struct{}),
	}
}

// Start launches the configured console process and begins reading its
// merged output. Calling Start again is a no-op.
func (s *Shell) Start() error {
	var startErr error
	s.started.Do(func() {
		if len(s.cfg.Command) == 0 {
			startErr = ErrNoCommand
			return
		}

		cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			startErr = fmt.Errorf("unable to open console "+
				"stdin: %w", err)
			return
		}

		// Stdout and stderr share one pipe so prompts and errors
		// land in the same transcript, in order.
		outReader, outWriter := io.Pipe()
		cmd.Stdout = outWriter
		cmd.Stderr = outWriter

		if err := cmd.Start(); err != nil {
			startErr = fmt.Errorf("unable to start %q: %w",
				s.cfg.Command[0], err)
			return
		}

		log.Infof("Node console started: %s (pid=%d)",
			strings.Join(s.cfg.Command, " "), cmd.Process.Pid)

		s.cmd = cmd
		s.attach(stdin, outReader)

		s.eg.Go(func() error {
			waitErr := cmd.Wait()
			outWriter.Close()
			if waitErr != nil {
				log.Debugf("Node console exited: %v", waitErr)
			}
			return nil
		})
	})

	return startErr
}

// attach wires the shell to a console's stdin and merged output stream.
// Tests call it directly with in-memory pipes instead of Start.
func (s *Shell) attach(stdin io.WriteCloser, output io.Reader) {
	s.stdin = stdin
	s.eg.Go(func() error {
		s.readOutput(output)
		return nil
	})
}

// readOutput feeds console output lines into the buffered line channel
// until the stream ends. If nobody is collecting and the buffer fills
// up, new lines are dropped rather than blocking the console.
func (s *Shell) readOutput(output io.Reader) {
	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		line := scanner.Text()

		select {
		case s.lines <- line:
		case <-s.quit:
			return
		default:
			log.Tracef("Dropping console line, buffer full")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debugf("Console output stream closed: %v", err)
	}
}

// Run submits a single command line to the console and collects its
// response until the prompt marker shows up. On timeout the lines
// gathered so far are returned together with ErrResponseTimeout so the
// caller can still display them.
func (s *Shell) Run(command string) ([]string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	s.drainPending()

	// Arm the timeout before writing so a test clock advanced right
	// after the command is consumed already sees the pending tick.
	timeout := s.cfg.Clock.TickAfter(s.cfg.ResponseTimeout)

	log.Debugf("Sending console command: %s", command)
	if err := s.send(command); err != nil {
		return nil, err
	}

	return s.collect(timeout)
}

// OpenWallet drives the console's interactive wallet unlock: the open
// command first, then the passphrase once the console has had a moment
// to raise its prompt. The passphrase is never logged.
func (s *Shell) OpenWallet(walletPath string, passphrase []byte) ([]string,
	error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.ready(); err != nil {
		return nil, err
	}

	s.drainPending()

	log.Infof("Opening wallet %s in node console", walletPath)

	timeout := s.cfg.Clock.TickAfter(s.cfg.ResponseTimeout)
	settle := s.cfg.Clock.TickAfter(s.cfg.SettleDelay)

	if err := s.send("open wallet " + walletPath); err != nil {
		return nil, err
	}

	select {
	case <-settle:
	case <-timeout:
		return nil, ErrResponseTimeout
	case <-s.quit:
		return nil, ErrShellClosed
	}

	if err := s.send(string(passphrase)); err != nil {
		return nil, err
	}

	return s.collect(timeout)
}

// Tail returns a copy of the most recent console output lines, oldest
// first.
func (s *Shell) Tail() []string {
	s.tailMtx.Lock()
	defer s.tailMtx.Unlock()

	out := make([]string, len(s.tail))
	copy(out, s.tail)
	return out
}

// Close asks the console to exit, tears the process down and waits for
// the output reader to drain. Later calls are no-ops.
func (s *Shell) Close() error {
	s.stopped.Do(func() {
		// Wake any in-flight collect before taking the command
		// mutex, otherwise we would deadlock against it.
		close(s.quit)

		s.mtx.Lock()
		if s.stdin != nil {
			if err := s.send("exit"); err != nil {
				log.Debugf("Console exit request: %v", err)
			}
			s.stdin.Close()
		}
		s.mtx.Unlock()

		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil {
				log.Debugf("Console kill: %v", err)
			}
		}

		s.eg.Wait()
		log.Info("Node console stopped")
	})

	return nil
}

// ready reports whether commands can currently be submitted. Callers
// must hold mtx.
func (s *Shell) ready() error {
	if s.stdin == nil {
		return ErrNotStarted
	}

	select {
	case <-s.quit:
		return ErrShellClosed
	default:
	}

	return nil
}

func (s *Shell) send(line string) error {
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return fmt.Errorf("unable to write to console: %w", err)
	}
	return nil
}

// drainPending records and discards output that arrived between
// commands, so the next response starts clean.
func (s *Shell) drainPending() {
	for {
		select {
		case line := <-s.lines:
			s.record(line)
		default:
			return
		}
	}
}

// collect gathers response lines until the prompt marker, the timeout or
// shutdown.
func (s *Shell) collect(timeout <-chan time.Time) ([]string, error) {
	var out []string
	for {
		select {
		case line := <-s.lines:
			s.record(line)
			out = append(out, line)

			if strings.Contains(line, s.cfg.PromptMarker) {
				return out, nil
			}

		case <-timeout:
			log.Warnf("Console response timed out after %v",
				s.cfg.ResponseTimeout)
			return out, ErrResponseTimeout

		case <-s.quit:
			return out, ErrShellClosed
		}
	}
}

func (s *Shell) record(line string) {
	s.tailMtx.Lock()
	defer s.tailMtx.Unlock()

	s.tail = append(s.tail, line)
	if excess := len(s.tail) - s.cfg.TailSize; excess > 0 {
		s.tail = s.tail[excess:]
	}
}
