package nodeshell

import (
	"io"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)

// fakeConsole is the far end of an attached shell: it reads the command
// lines the shell writes and plays back canned output.
type fakeConsole struct {
	stdin  *io.PipeReader
	output *io.PipeWriter

	// commands receives every line the shell writes to the console.
	commands chan string
}

// runResult carries a Run or OpenWallet result out of a goroutine.
type runResult struct {
	lines []string
	err   error
}

// newTestShell attaches a shell to in-memory pipes and starts a reader
// that forwards every submitted command line to the commands channel.
func newTestShell(t *testing.T, cfg Config) (*Shell, *fakeConsole) {
	t.Helper()

	if cfg.Clock == nil {
		cfg.Clock = clock.NewTestClock(testTime)
	}

	s := NewShell(cfg)

	stdinReader, stdinWriter := io.Pipe()
	outReader, outWriter := io.Pipe()
	s.attach(stdinWriter, outReader)

	fc := &fakeConsole{
		stdin:    stdinReader,
		output:   outWriter,
		commands: make(chan string, 8),
	}
	go fc.pump()

	t.Cleanup(func() {
		fc.stdin.Close()
		fc.output.Close()
		require.NoError(t, s.Close())
	})

	return s, fc
}

// pump forwards shell stdin lines to the commands channel until the pipe
// closes. Keeping stdin drained means shell writes never block.
func (f *fakeConsole) pump() {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for {
		_, err := f.stdin.Read(one)
		if err != nil {
			return
		}
		if one[0] == '\n' {
			f.commands <- string(buf)
			buf = buf[:0]
			continue
		}
		buf = append(buf, one[0])
	}
}

// reply writes output lines to the shell, each newline terminated.
func (f *fakeConsole) reply(t *testing.T, lines ...string) {
	t.Helper()

	for _, line := range lines {
		_, err := io.WriteString(f.output, line+"\n")
		require.NoError(t, err)
	}
}

// nextCommand waits for the shell to submit its next command line.
func (f *fakeConsole) nextCommand(t *testing.T) string {
	t.Helper()

	select {
	case cmd := <-f.commands:
		return cmd
	case <-time.After(5 * time.Second):
		t.Fatalf("shell never submitted a command")
		return ""
	}
}

// TestShellRunCollectsUntilPrompt checks the basic round trip: one
// command in, all response lines out, stopping at the prompt marker.
func TestShellRunCollectsUntilPrompt(t *testing.T) {
	t.Parallel()

	s, fc := newTestShell(t, Config{})

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.Run("show state")
		resCh <- runResult{lines: lines, err: err}
	}()

	require.Equal(t, "show state", fc.nextCommand(t))
	fc.reply(t, "Block height: 123", "Connected nodes: 4", "neo> ")

	res := <-resCh
	require.NoError(t, res.err)
	require.Equal(t, []string{
		"Block height: 123",
		"Connected nodes: 4",
		"neo> ",
	}, res.lines)
}

// TestShellRunTimeout checks that a silent console trips the response
// timeout and that the error is the package sentinel.
func TestShellRunTimeout(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	s, fc := newTestShell(t, Config{Clock: testClock})

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.Run("hang")
		resCh <- runResult{lines: lines, err: err}
	}()

	// Once the command has been consumed, the timeout is guaranteed to
	// be armed, so advancing the clock past it is race free.
	require.Equal(t, "hang", fc.nextCommand(t))
	testClock.SetTime(testTime.Add(DefaultResponseTimeout + time.Second))

	res := <-resCh
	require.ErrorIs(t, res.err, ErrResponseTimeout)
	require.Empty(t, res.lines)
}

// TestShellRunPartialOutputOnTimeout checks that lines collected before
// the timeout are still handed back with the error.
func TestShellRunPartialOutputOnTimeout(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	s, fc := newTestShell(t, Config{Clock: testClock})

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.Run("import blocks")
		resCh <- runResult{lines: lines, err: err}
	}()

	require.Equal(t, "import blocks", fc.nextCommand(t))
	fc.reply(t, "importing...")

	// Wait for the line to be collected before firing the timeout,
	// otherwise the two select branches would race.
	require.Eventually(t, func() bool {
		return len(s.Tail()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	testClock.SetTime(testTime.Add(DefaultResponseTimeout + time.Second))

	res := <-resCh
	require.ErrorIs(t, res.err, ErrResponseTimeout)
	require.Equal(t, []string{"importing..."}, res.lines)
}

// TestShellOpenWallet checks the two step unlock flow: open command,
// settle delay, passphrase, then normal response collection. The
// passphrase must go out only after the settle delay fired.
func TestShellOpenWallet(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	s, fc := newTestShell(t, Config{
		Clock:       testClock,
		SettleDelay: 2 * time.Second,
	})

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.OpenWallet("wallets/hot.json", []byte("hunter2"))
		resCh <- runResult{lines: lines, err: err}
	}()

	require.Equal(t, "open wallet wallets/hot.json", fc.nextCommand(t))

	// Nothing more may arrive until the settle delay elapses.
	select {
	case cmd := <-fc.commands:
		t.Fatalf("passphrase sent before settle delay: %q", cmd)
	case <-time.After(50 * time.Millisecond):
	}

	testClock.SetTime(testTime.Add(2 * time.Second))
	require.Equal(t, "hunter2", fc.nextCommand(t))

	fc.reply(t, "Wallet opened", "neo> ")

	res := <-resCh
	require.NoError(t, res.err)
	require.Equal(t, []string{"Wallet opened", "neo> "}, res.lines)
}

// TestShellDrainsStalePending checks that output produced between
// commands does not leak into the next response, but still lands in the
// tail transcript.
func TestShellDrainsStalePending(t *testing.T) {
	t.Parallel()

	s, fc := newTestShell(t, Config{})

	fc.reply(t, "unsolicited broadcast", "another one")

	// The lines flow through the reader goroutine, so give them time
	// to reach the buffer before running the next command.
	require.Eventually(t, func() bool {
		return len(s.lines) == 2
	}, 5*time.Second, 10*time.Millisecond)

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.Run("show pool")
		resCh <- runResult{lines: lines, err: err}
	}()

	require.Equal(t, "show pool", fc.nextCommand(t))
	fc.reply(t, "Pool size: 0", "neo> ")

	res := <-resCh
	require.NoError(t, res.err)
	require.Equal(t, []string{"Pool size: 0", "neo> "}, res.lines)

	require.Equal(t, []string{
		"unsolicited broadcast",
		"another one",
		"Pool size: 0",
		"neo> ",
	}, s.Tail())
}

// TestShellTailRing checks that the tail keeps only the configured
// number of most recent lines.
func TestShellTailRing(t *testing.T) {
	t.Parallel()

	s, fc := newTestShell(t, Config{TailSize: 3})

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.Run("help")
		resCh <- runResult{lines: lines, err: err}
	}()

	require.Equal(t, "help", fc.nextCommand(t))
	fc.reply(t, "one", "two", "three", "four", "neo> ")

	res := <-resCh
	require.NoError(t, res.err)
	require.Len(t, res.lines, 5)

	require.Equal(t, []string{"three", "four", "neo> "}, s.Tail())
}

// TestShellNotStarted checks that commands are refused before the shell
// is attached to a console.
func TestShellNotStarted(t *testing.T) {
	t.Parallel()

	s := NewShell(Config{})

	_, err := s.Run("show state")
	require.ErrorIs(t, err, ErrNotStarted)

	_, err = s.OpenWallet("w.json", []byte("pass"))
	require.ErrorIs(t, err, ErrNotStarted)
}

// TestShellStartNoCommand checks that Start refuses an empty command
// line.
func TestShellStartNoCommand(t *testing.T) {
	t.Parallel()

	s := NewShell(Config{})
	require.ErrorIs(t, s.Start(), ErrNoCommand)
}

// TestShellCloseUnblocksRun checks that Close wakes a Run that is stuck
// waiting for a response.
func TestShellCloseUnblocksRun(t *testing.T) {
	t.Parallel()

	s, fc := newTestShell(t, Config{})

	resCh := make(chan runResult, 1)
	go func() {
		lines, err := s.Run("hang")
		resCh <- runResult{lines: lines, err: err}
	}()

	require.Equal(t, "hang", fc.nextCommand(t))

	// Shut the output stream first so the reader goroutine drains,
	// then close the shell while Run is still collecting.
	fc.output.Close()
	require.NoError(t, s.Close())

	res := <-resCh
	require.ErrorIs(t, res.err, ErrShellClosed)

	_, err := s.Run("after close")
	require.ErrorIs(t, err, ErrShellClosed)

	// Closing again is a no-op.
	require.NoError(t, s.Close())
}
