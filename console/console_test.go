package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCompleter records prompts and plays back a canned reply.
type fakeCompleter struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string,
	error) {

	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

// runConsole feeds the input script to a console with the passed
// commands registered and returns everything it wrote.
func runConsole(t *testing.T, input string, completer ChatCompleter,
	cmds ...Command) string {

	t.Helper()

	var out bytes.Buffer
	c := New(Config{
		In:        strings.NewReader(input),
		Out:       &out,
		Completer: completer,
	})
	for _, cmd := range cmds {
		require.NoError(t, c.Register(cmd))
	}

	require.NoError(t, c.Run(context.Background()))
	return out.String()
}

// TestConsoleSynonyms checks that every registered phrase routes to the
// same action, case insensitively, with the trailing words as args.
func TestConsoleSynonyms(t *testing.T) {
	t.Parallel()

	var calls [][]string
	cmd := Command{
		Name:     "make wallets",
		Synonyms: []string{"create wallets", "generate wallets"},
		Help:     "Create new wallets in the vault.",
		Run: func(args []string) error {
			calls = append(calls, args)
			return nil
		},
	}

	input := "make wallets 3\n" +
		"create wallets\n" +
		"GENERATE WALLETS 5\n" +
		"exit\n"
	runConsole(t, input, nil, cmd)

	require.Equal(t, [][]string{{"3"}, {}, {"5"}}, calls)
}

// TestConsoleArgsPreserveCase checks that trigger phrases match case
// insensitively while the arguments keep their original case.
func TestConsoleArgsPreserveCase(t *testing.T) {
	t.Parallel()

	var got []string
	cmd := Command{
		Name: "api keys",
		Help: "Manage API credentials.",
		Run: func(args []string) error {
			got = args
			return nil
		},
	}

	runConsole(t, "API Keys set chatgpt sk-MiXeDcAsE\nexit\n", nil, cmd)
	require.Equal(t, []string{"set", "chatgpt", "sk-MiXeDcAsE"}, got)
}

// TestConsolePhrasePrecedence checks that the longest matching phrase
// wins over a shorter prefix command.
func TestConsolePhrasePrecedence(t *testing.T) {
	t.Parallel()

	var short, long []string
	cmds := []Command{
		{
			Name: "api",
			Help: "Short command.",
			Run: func(args []string) error {
				short = args
				return nil
			},
		},
		{
			Name: "api keys",
			Help: "Long command.",
			Run: func(args []string) error {
				long = args
				return nil
			},
		},
	}

	runConsole(t, "api keys list\napi probe\nexit\n", nil, cmds...)

	require.Equal(t, []string{"list"}, long)
	require.Equal(t, []string{"probe"}, short)
}

// TestConsoleUnknownInput checks the fallback behavior with and without
// a chat completer.
func TestConsoleUnknownInput(t *testing.T) {
	t.Parallel()

	out := runConsole(t, "frobnicate the vault\nexit\n", nil)
	require.Contains(t, out, "Command not recognized.")

	completer := &fakeCompleter{reply: "Try the help command."}
	out = runConsole(t, "what can you do\nexit\n", completer)

	require.Equal(t, []string{"what can you do"}, completer.prompts)
	require.Contains(t, out, "Try the help command.")
	require.NotContains(t, out, "Command not recognized.")
}

// TestConsoleCompleterNotUsedForCommands checks that registered phrases
// never leak into the completer.
func TestConsoleCompleterNotUsedForCommands(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "nope"}
	cmd := Command{
		Name: "show stats",
		Help: "Show vault statistics.",
		Run:  func([]string) error { return nil },
	}

	runConsole(t, "show stats\nexit\n", completer, cmd)
	require.Empty(t, completer.prompts)
}

// TestConsoleCompleterError checks that a failing completer is reported
// without ending the loop.
func TestConsoleCompleterError(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{err: errors.New("api unreachable")}
	out := runConsole(t, "hello there\nexit\n", completer)

	require.Contains(t, out, "Error: api unreachable")
}

// TestConsoleCommandError checks that a failing command is reported and
// the loop keeps going.
func TestConsoleCommandError(t *testing.T) {
	t.Parallel()

	calls := 0
	cmd := Command{
		Name: "flaky",
		Help: "Fails the first time.",
		Run: func([]string) error {
			calls++
			if calls == 1 {
				return errors.New("transient breakage")
			}
			return nil
		},
	}

	out := runConsole(t, "flaky\nflaky\nexit\n", nil, cmd)

	require.Equal(t, 2, calls)
	require.Contains(t, out, "Error: transient breakage")
}

// TestConsoleHelp checks the built-in help listing.
func TestConsoleHelp(t *testing.T) {
	t.Parallel()

	cmd := Command{
		Name:     "make wallets",
		Synonyms: []string{"create wallets"},
		Help:     "Create new wallets in the vault.",
		Run:      func([]string) error { return nil },
	}

	out := runConsole(t, "help\nexit\n", nil, cmd)

	require.Contains(t, out, "Available commands:")
	require.Contains(t, out, "make wallets (create wallets)")
	require.Contains(t, out, "Create new wallets in the vault.")
	require.Contains(t, out, "exit (quit)")
}

// TestConsoleExitSynonym checks that quit ends the loop like exit does.
func TestConsoleExitSynonym(t *testing.T) {
	t.Parallel()

	reached := false
	cmd := Command{
		Name: "after",
		Help: "Must never run.",
		Run: func([]string) error {
			reached = true
			return nil
		},
	}

	runConsole(t, "quit\nafter\n", nil, cmd)
	require.False(t, reached)
}

// TestConsoleEOF checks that the loop ends cleanly when input runs dry
// without an exit command.
func TestConsoleEOF(t *testing.T) {
	t.Parallel()

	out := runConsole(t, "", nil)
	require.Contains(t, out, defaultPrompt)
}

// TestConsoleRegisterRejects checks the registration error cases.
func TestConsoleRegisterRejects(t *testing.T) {
	t.Parallel()

	c := New(Config{In: strings.NewReader(""), Out: &bytes.Buffer{}})

	noop := func([]string) error { return nil }

	require.Error(t, c.Register(Command{Help: "no name", Run: noop}))
	require.Error(t, c.Register(Command{Name: "no action"}))

	// The built-in help phrase is taken.
	require.Error(t, c.Register(Command{Name: "help", Run: noop}))

	// Same for a synonym clashing with an existing phrase.
	require.Error(t, c.Register(Command{
		Name:     "fresh",
		Synonyms: []string{"quit"},
		Run:      noop,
	}))

	require.Error(t, c.Register(Command{
		Name: "one two three four",
		Run:  noop,
	}))
}
