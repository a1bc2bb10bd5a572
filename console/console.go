package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrExit is returned by a command action to end the interactive loop.
var ErrExit = errors.New("console exit requested")

const (
	defaultPrompt = "keymaker> "

	// maxLineSize bounds a single line of console input.
	maxLineSize = 4000

	// maxPhraseWords is the longest trigger phrase the dispatcher will
	// try to match.
	maxPhraseWords = 3
)

// Action is the handler behind a console command. It receives the words
// that followed the trigger phrase.
type Action func(args []string) error

// Command is one console command together with its trigger phrases.
type Command struct {
	// Name is the canonical phrase, shown first in help.
	Name string

	// Synonyms are alternative phrases that trigger the same action.
	Synonyms []string

	// Help is the one line description shown by the help command.
	Help string

	// Run executes the command.
	Run Action
}

// ChatCompleter answers free-form input that matched no registered
// command.
type ChatCompleter interface {
	// Complete turns the prompt into a reply.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config wires the console loop to its surroundings.
type Config struct {
	// In is the input stream, normally stdin.
	In io.Reader

	// Out is where prompts and command output go.
	Out io.Writer

	// Prompt is written before each input line. Empty selects the
	// default.
	Prompt string

	// Completer, when set, handles input that matches no registered
	// phrase. Without one such input just prints a notice.
	Completer ChatCompleter
}

// Console is an interactive line oriented command loop. Input lines are
// matched against registered trigger phrases, longest phrase first, and
// anything left unmatched is optionally handed to the chat completer.
type Console struct {
	cfg Config

	commands []*Command
	phrases  map[string]*Command
}

// New returns a console with the built-in help and exit commands
// registered.
func New(cfg Config) *Console {
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}

	c := &Console{
		cfg:     cfg,
		phrases: make(map[string]*Command),
	}

	c.add(&Command{
		Name:     "help",
		Synonyms: []string{"?"},
		Help:     "Show this list of commands.",
		Run: func([]string) error {
			c.printHelp()
			return nil
		},
	})
	c.add(&Command{
		Name:     "exit",
		Synonyms: []string{"quit"},
		Help:     "Leave the console.",
		Run: func([]string) error {
			return ErrExit
		},
	})

	return c
}

// Register adds a command and all of its trigger phrases. Phrases that
// would clash with an already registered command are rejected.
func (c *Console) Register(cmd Command) error {
	if cmd.Name == "" {
		return errors.New("command needs a name")
	}
	if cmd.Run == nil {
		return fmt.Errorf("command %q needs an action", cmd.Name)
	}

	for _, phrase := range append([]string{cmd.Name}, cmd.Synonyms...) {
		key := normalizePhrase(phrase)
		if len(strings.Fields(key)) > maxPhraseWords {
			return fmt.Errorf("phrase %q is too long", phrase)
		}
		if _, ok := c.phrases[key]; ok {
			return fmt.Errorf("phrase %q already registered",
				phrase)
		}
	}

	c.add(&cmd)
	return nil
}

func (c *Console) add(cmd *Command) {
	c.commands = append(c.commands, cmd)
	c.phrases[normalizePhrase(cmd.Name)] = cmd
	for _, phrase := range cmd.Synonyms {
		c.phrases[normalizePhrase(phrase)] = cmd
	}
}

func normalizePhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// Run reads input lines until EOF or an exit command. Command errors are
// printed and the loop keeps going; only input stream failures end it.
func (c *Console) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.cfg.In)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	for {
		fmt.Fprint(c.cfg.Out, c.cfg.Prompt)

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}

			// EOF. Finish the prompt line and leave quietly.
			fmt.Fprintln(c.cfg.Out)
			return nil
		}

		stop, err := c.dispatch(ctx, scanner.Text())
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// dispatch runs a single input line. The bool result is true when the
// loop should end.
func (c *Console) dispatch(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	// Phrases match case insensitively, but args keep their original
	// case since values like API keys are case sensitive.
	lowered := make([]string, len(fields))
	for i, field := range fields {
		lowered[i] = strings.ToLower(field)
	}

	// Longest phrase first, so "api keys" wins over a plain "api"
	// command.
	for n := min(len(fields), maxPhraseWords); n > 0; n-- {
		cmd, ok := c.phrases[strings.Join(lowered[:n], " ")]
		if !ok {
			continue
		}

		err := cmd.Run(fields[n:])
		switch {
		case errors.Is(err, ErrExit):
			return true, nil

		case err != nil:
			log.Errorf("Command %q failed: %v", cmd.Name, err)
			fmt.Fprintf(c.cfg.Out, "Error: %v\n", err)
		}

		return false, nil
	}

	return false, c.freeform(ctx, line)
}

// freeform handles input that matched no registered phrase.
func (c *Console) freeform(ctx context.Context, line string) error {
	if c.cfg.Completer == nil {
		fmt.Fprintln(c.cfg.Out, "Command not recognized.")
		return nil
	}

	log.Debugf("Falling through to chat completion")

	reply, err := c.cfg.Completer.Complete(ctx, strings.TrimSpace(line))
	if err != nil {
		log.Errorf("Chat completion failed: %v", err)
		fmt.Fprintf(c.cfg.Out, "Error: %v\n", err)
		return nil
	}

	fmt.Fprintln(c.cfg.Out, reply)
	return nil
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.cfg.Out, "Available commands:")
	for _, cmd := range c.commands {
		name := cmd.Name
		if len(cmd.Synonyms) > 0 {
			name = fmt.Sprintf("%s (%s)", cmd.Name,
				strings.Join(cmd.Synonyms, ", "))
		}
		fmt.Fprintf(c.cfg.Out, "  %-42s %s\n", name, cmd.Help)
	}
}
