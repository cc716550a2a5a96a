package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/plccoms/plccoms-client-go/plccoms"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive PLC shell",
	Long: `Opens a persistent connection and an interactive prompt. DIFF
notifications for monitored variables print between prompts.`,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := connect(true)
		if err != nil {
			fmt.Printf("Error connecting: %v\n", err)
			return
		}
		defer client.Disconnect()

		shell, err := newShell(client)
		if err != nil {
			fmt.Printf("Error starting shell: %v\n", err)
			return
		}
		shell.run()
	},
}

type shell struct {
	client *plccoms.Client
	rl     *readline.Instance
}

func newShell(client *plccoms.Client) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "plc> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{client: client, rl: rl}, nil
}

// stdout coordinates with the readline prompt so async DIFF output does
// not mangle the input line.
func (s *shell) stdout() io.Writer {
	return s.rl.Stdout()
}

func (s *shell) run() {
	defer s.rl.Close()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.stdout(), "Exiting...")
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		command := strings.ToLower(parts[0])
		args := parts[1:]

		switch command {
		case "help", "?":
			s.printHelp()

		case "get", "g":
			s.cmdGet(args)

		case "set", "s":
			s.cmdSet(args)

		case "list", "l":
			s.cmdList()

		case "info":
			s.cmdInfo(args)

		case "en", "watch":
			s.cmdEnable(args)

		case "di", "unwatch":
			s.cmdDisable(args)

		case "vars":
			s.cmdVars()

		case "quit", "exit", "q":
			fmt.Fprintln(s.stdout(), "Exiting...")
			return

		default:
			fmt.Fprintf(s.stdout(), "Unknown command: %s (type 'help' for commands)\n", command)
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.stdout(), `
PlcComS Shell Commands:
  get <name>...        - Read variable values
  set <name> <value>   - Write a variable value
  list                 - List published variables (blocks for the list window)
  info <param>         - Query server metadata (version, version_plc, ...)
  en <name> [delta]    - Monitor a variable, printing every change
  di <name>            - Stop monitoring a variable
  vars                 - Show locally cached values
  quit                 - Exit the shell`)
}

func (s *shell) cmdGet(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stdout(), "Usage: get <name>...")
		return
	}
	for _, name := range args {
		value, err := s.client.GetVariable(context.Background(), name)
		if err != nil {
			fmt.Fprintf(s.stdout(), "%s: error: %v\n", name, err)
			continue
		}
		fmt.Fprintf(s.stdout(), "%s = %s\n", name, value)
	}
}

func (s *shell) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.stdout(), "Usage: set <name> <value>")
		return
	}
	name := args[0]
	value := plccoms.ParseValue(strings.Join(args[1:], " "))
	if err := s.client.SetVariable(name, value); err != nil {
		fmt.Fprintf(s.stdout(), "Error setting %s: %v\n", name, err)
		return
	}
	readBack, err := s.client.GetVariable(context.Background(), name)
	if err != nil {
		fmt.Fprintf(s.stdout(), "Set %s, but read-back failed: %v\n", name, err)
		return
	}
	fmt.Fprintf(s.stdout(), "%s = %s\n", name, readBack)
}

func (s *shell) cmdList() {
	fmt.Fprintln(s.stdout(), "Collecting catalog...")
	entries, err := s.client.ListVariables(context.Background())
	if err != nil {
		fmt.Fprintf(s.stdout(), "Error listing variables: %v\n", err)
		return
	}
	for _, entry := range entries {
		fmt.Fprintf(s.stdout(), "%-40s %s\n", entry.Name, entry.Type)
	}
	fmt.Fprintf(s.stdout(), "%d variable(s)\n", len(entries))
}

func (s *shell) cmdInfo(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.stdout(), "Usage: info <param>")
		return
	}
	info, err := s.client.GetInfo(context.Background(), args[0])
	if err != nil {
		fmt.Fprintf(s.stdout(), "Error querying %s: %v\n", args[0], err)
		return
	}
	fmt.Fprintln(s.stdout(), info)
}

func (s *shell) cmdEnable(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stdout(), "Usage: en <name> [delta]")
		return
	}
	name := args[0]

	var delta float64
	if len(args) > 1 {
		parsed, err := strconv.ParseFloat(args[1], 64)
		if err != nil || parsed < 0 {
			fmt.Fprintf(s.stdout(), "Invalid delta %q\n", args[1])
			return
		}
		delta = parsed
	}

	if _, err := s.client.EnableMonitoring(name, delta, func(name string, value plccoms.Value) {
		fmt.Fprintf(s.stdout(), "DIFF %s = %s\n", name, value)
	}); err != nil {
		fmt.Fprintf(s.stdout(), "Error monitoring %s: %v\n", name, err)
		return
	}
	fmt.Fprintf(s.stdout(), "Monitoring %s\n", name)
}

func (s *shell) cmdDisable(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.stdout(), "Usage: di <name>")
		return
	}
	if err := s.client.DisableMonitoring(args[0]); err != nil {
		fmt.Fprintf(s.stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.stdout(), "Stopped monitoring %s\n", args[0])
}

func (s *shell) cmdVars() {
	variables := s.client.Variables()
	if len(variables) == 0 {
		fmt.Fprintln(s.stdout(), "No cached values yet.")
		return
	}
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(s.stdout(), "%-40s %s\n", name, variables[name])
	}
}
