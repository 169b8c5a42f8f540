package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// EditorPlaceholder seeds the temporary file opened by Editor
const EditorPlaceholder = "*Type out your message here*"

// Shell is the interactive terminal: a line prompt whose output writer
// can be used from other goroutines without corrupting the input line.
type Shell struct {
	rl        *readline.Instance
	closeOnce sync.Once
}

// New creates a shell. historyFile may be empty; commands are offered for
// tab completion.
func New(historyFile string, commands []string) (*Shell, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c))
	}
	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:       historyFile,
		AutoComplete:      readline.NewPrefixCompleter(items...),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %w", err)
	}
	return &Shell{rl: rl}, nil
}

// Prompt reads one non-empty line. Ctrl-C and Ctrl-D are both reported
// as io.EOF.
func (s *Shell) Prompt(label string) (string, error) {
	s.rl.SetPrompt(label + "> ")
	return readNonEmpty(s.rl.Readline)
}

func readNonEmpty(readLine func() (string, error)) (string, error) {
	for {
		line, err := readLine()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

// Printer returns a writer that redraws the prompt after each write
func (s *Shell) Printer() io.Writer { return s.rl.Stdout() }

// Editor composes a message in $EDITOR. It returns an empty string when
// the placeholder was left untouched.
func (s *Shell) Editor() (string, error) {
	return compose(editorCommand(), os.Stdin, os.Stdout, os.Stderr)
}

func editorCommand() []string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(os.Getenv(env)); len(fields) > 0 {
			return fields
		}
	}
	return []string{"vi"}
}

func compose(command []string, stdin io.Reader, stdout, stderr io.Writer) (string, error) {
	f, err := os.CreateTemp("", "nostrachat-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create message file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(EditorPlaceholder); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write message file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write message file: %w", err)
	}

	cmd := exec.Command(command[0], append(command[1:], path)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to run editor %s: %w", command[0], err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read message file: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == EditorPlaceholder {
		return "", nil
	}
	return text, nil
}

// Choose prints a numbered menu and reads a selection. When more is not
// empty it is offered as an extra last entry and picking it returns
// more=true.
func (s *Shell) Choose(title string, labels []string, more string) (int, bool, error) {
	return choose(s.Prompt, s.Printer(), title, labels, more)
}

func choose(prompt func(string) (string, error), w io.Writer, title string, labels []string, more string) (int, bool, error) {
	entries := len(labels)
	if more != "" {
		entries++
	}
	if entries == 0 {
		return 0, false, fmt.Errorf("nothing to choose from")
	}

	fmt.Fprintln(w, title)
	for i, l := range labels {
		fmt.Fprintf(w, "  %d) %s\n", i+1, l)
	}
	if more != "" {
		fmt.Fprintf(w, "  %d) %s\n", entries, more)
	}

	for {
		line, err := prompt("Select")
		if err != nil {
			return 0, false, err
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > entries {
			fmt.Fprintf(w, "Please enter a number between 1 and %d\n", entries)
			continue
		}
		if n > len(labels) {
			return 0, true, nil
		}
		return n - 1, false, nil
	}
}

// Close restores the terminal. Further prompts return io.EOF.
func (s *Shell) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.rl.Close() })
	return err
}
