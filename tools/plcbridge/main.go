// Package main implements plcbridge, a WebSocket gateway onto a PlcComS
// server. Browser clients connect over WebSocket, exchange JSON command
// and event messages, and receive every PLC variable change pushed by
// the shared protocol client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/plccoms/plccoms-client-go/plccoms"
)

var (
	flagPLCHost = flag.String("plc-host", "127.0.0.1", "PlcComS server host")
	flagPLCPort = flag.Int("plc-port", plccoms.DefaultPort, "PlcComS server port")
	flagListen  = flag.String("listen", ":8085", "HTTP listen address")
	flagPath    = flag.String("path", "/ws", "WebSocket endpoint path")
	flagTimeout = flag.Duration("timeout", 5*time.Second, "per-request PLC timeout")
	flagVerbose = flag.Bool("verbose", false, "debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := plccoms.New(*flagPLCHost,
		plccoms.WithPort(*flagPLCPort),
		plccoms.WithRequestTimeout(*flagTimeout),
		plccoms.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("plcbridge: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		log.Fatalf("plcbridge: connect to %s:%d failed: %v", *flagPLCHost, *flagPLCPort, err)
	}

	bridge := newBridge(client, logger)
	defer bridge.close()

	mux := http.NewServeMux()
	mux.HandleFunc(*flagPath, bridge.serveWS)

	log.Printf("plcbridge: serving %s on %s  (plc=%s:%d)", *flagPath, *flagListen, *flagPLCHost, *flagPLCPort)
	if err := http.ListenAndServe(*flagListen, mux); err != nil {
		log.Fatalf("plcbridge: http: %v", err)
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "plcbridge — WebSocket gateway onto a PlcComS server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
