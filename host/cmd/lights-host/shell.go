package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const historyFile = ".lights_history"

// prompter is the part of liner.State the shell loop needs
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session on one open connection",
		Long: `Run commands interactively over a single device connection.

Every top-level command is available without the program name, e.g.
"config get fps_ms" or "fill --replace 100 0xff0000". Words are split
like a POSIX shell, so an unquoted # starts a comment: write colors as
0xRRGGBB or quote them. Connection flags are fixed when the shell
starts. Ctrl-D or "quit" leaves the shell.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.connect(); err != nil {
				return err
			}

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			line.SetCompleter(completer(newRootCmd(newApp(nil))))

			history := historyPath()
			if f, err := os.Open(history); err == nil {
				line.ReadHistory(f)
				f.Close()
			}

			fmt.Fprintln(cmd.OutOrStdout(), `Interactive mode, type "help" for commands, Ctrl-D to quit.`)
			err := runShell(a, line, cmd.OutOrStdout(), cmd.ErrOrStderr())

			if f, ferr := os.Create(history); ferr == nil {
				line.WriteHistory(f)
				f.Close()
			}
			return err
		},
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}

// completer offers top-level command names
func completer(root *cobra.Command) liner.Completer {
	var names []string
	for _, c := range root.Commands() {
		if c.Name() != "shell" {
			names = append(names, c.Name())
		}
	}
	names = append(names, "help", "quit")
	sort.Strings(names)

	return func(line string) (c []string) {
		for _, name := range names {
			if strings.HasPrefix(name, strings.ToLower(line)) {
				c = append(c, name)
			}
		}
		return
	}
}

// runShell reads lines from p until EOF or quit. A failing command is
// reported and the loop continues.
func runShell(a *app, p prompter, stdout, stderr io.Writer) error {
	for {
		input, err := p.Prompt("lights> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(stdout)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		p.AppendHistory(input)

		tokens, err := shlex.Split(input)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		switch tokens[0] {
		case "quit", "exit", "q":
			return nil
		case "shell":
			fmt.Fprintln(stderr, "error: already in the shell")
			continue
		}

		root := newRootCmd(a)
		root.SetArgs(tokens)
		root.SetOut(stdout)
		root.SetErr(stderr)
		if err := root.Execute(); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
	}
}
