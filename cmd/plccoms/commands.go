package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plccoms/plccoms-client-go/plccoms"
)

var (
	targetHost  string
	targetPort  int
	reqTimeout  time.Duration
	listWindow  time.Duration
	verboseLogs bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&targetHost, "host", "127.0.0.1", "PlcComS server host")
	rootCmd.PersistentFlags().IntVar(&targetPort, "port", plccoms.DefaultPort, "PlcComS server port")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 5*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().DurationVar(&listWindow, "list-window", 10*time.Second, "collection window for the list command")
	rootCmd.PersistentFlags().BoolVarP(&verboseLogs, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(shellCmd)
}

// connect builds a client from the persistent flags and opens the
// connection. Callers own the returned client and must Disconnect it.
func connect(reconnect bool) (*plccoms.Client, error) {
	opts := []plccoms.ClientOption{
		plccoms.WithPort(targetPort),
		plccoms.WithRequestTimeout(reqTimeout),
		plccoms.WithListWindow(listWindow),
		plccoms.WithReconnect(reconnect),
	}
	if verboseLogs {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, plccoms.WithLogger(logger))
	}

	client, err := plccoms.New(targetHost, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

var getCmd = &cobra.Command{
	Use:   "get [variable...]",
	Short: "Read one or more variable values",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := connect(false)
		if err != nil {
			fmt.Printf("Error connecting: %v\n", err)
			os.Exit(1)
		}
		defer client.Disconnect()

		failed := false
		for _, name := range args {
			value, err := client.GetVariable(context.Background(), name)
			if err != nil {
				fmt.Printf("%s: error: %v\n", name, err)
				failed = true
				continue
			}
			fmt.Printf("%s = %s\n", name, value)
		}
		if failed {
			os.Exit(1)
		}
	},
}

var setCmd = &cobra.Command{
	Use:   "set [variable] [value]",
	Short: "Write a variable value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := connect(false)
		if err != nil {
			fmt.Printf("Error connecting: %v\n", err)
			os.Exit(1)
		}
		defer client.Disconnect()

		name := args[0]
		value := plccoms.ParseValue(args[1])
		if err := client.SetVariable(name, value); err != nil {
			fmt.Printf("Error setting %s: %v\n", name, err)
			os.Exit(1)
		}

		// SET gets no reply; read back so the user sees the effect.
		readBack, err := client.GetVariable(context.Background(), name)
		if err != nil {
			fmt.Printf("Set %s, but read-back failed: %v\n", name, err)
			return
		}
		fmt.Printf("%s = %s\n", name, readBack)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the variables published by the server",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := connect(false)
		if err != nil {
			fmt.Printf("Error connecting: %v\n", err)
			os.Exit(1)
		}
		defer client.Disconnect()

		fmt.Printf("Collecting catalog for %s...\n", listWindow)
		entries, err := client.ListVariables(context.Background())
		if err != nil {
			fmt.Printf("Error listing variables: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			fmt.Println("No variables published.")
			return
		}
		for _, entry := range entries {
			fmt.Printf("%-40s %s\n", entry.Name, entry.Type)
		}
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [parameter]",
	Short: "Query server metadata (e.g. version, version_plc)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := connect(false)
		if err != nil {
			fmt.Printf("Error connecting: %v\n", err)
			os.Exit(1)
		}
		defer client.Disconnect()

		info, err := client.GetInfo(context.Background(), args[0])
		if err != nil {
			fmt.Printf("Error querying %s: %v\n", args[0], err)
			os.Exit(1)
		}
		fmt.Println(info)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [variable...]",
	Short: "Stream change notifications for the given variables",
	Long: `Enables change monitoring for each named variable and prints every
DIFF notification until interrupted. The connection reconnects and
re-enables monitoring automatically if the server restarts.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, err := connect(true)
		if err != nil {
			fmt.Printf("Error connecting: %v\n", err)
			os.Exit(1)
		}
		defer client.Disconnect()

		delta, _ := cmd.Flags().GetFloat64("delta")
		for _, name := range args {
			if _, err := client.EnableMonitoring(name, delta, func(name string, value plccoms.Value) {
				fmt.Printf("%s  %s = %s\n", time.Now().Format("15:04:05.000"), name, value)
			}); err != nil {
				fmt.Printf("Error monitoring %s: %v\n", name, err)
				os.Exit(1)
			}
		}

		fmt.Printf("Monitoring %s, press Ctrl-C to stop\n", strconv.Itoa(len(args))+" variable(s)")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
	},
}

func init() {
	monitorCmd.Flags().Float64("delta", 0, "minimum change to report for numeric variables (0 reports every change)")
}
