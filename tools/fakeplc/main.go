// Package main implements fakeplc, a deterministic PlcComS-protocol TCP
// responder for integration testing of PlcComS client implementations.
// It serves a configurable variable table over the line-oriented protocol:
// GET, SET, LIST, EN, DI and GETINFO, with DIFF change notifications
// fanned out to subscribed connections.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

var (
	flagAddr       = flag.String("addr", "127.0.0.1:5010", "listen address")
	flagVars       = flag.String("vars", "", "YAML file with the variable table")
	flagVersion    = flag.String("version", "4.4.1", "PlcComS server version reported by GETINFO:version")
	flagVersionPLC = flag.String("version-plc", "CP-1000 v5.1", "PLC firmware version reported by GETINFO:version_plc")
	flagLogConn    = flag.Bool("log-conn", true, "log connect/disconnect events")
)

func main() {
	flag.Parse()

	table := defaultVarTable()
	if *flagVars != "" {
		loaded, err := loadVarsFile(*flagVars)
		if err != nil {
			log.Fatalf("fakeplc: failed to load %s: %v", *flagVars, err)
		}
		table = loaded
	}

	server := newServer(table, *flagVersion, *flagVersionPLC, *flagLogConn)

	listener, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		log.Fatalf("fakeplc: listen %s failed: %v", *flagAddr, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("fakeplc: received %v, shutting down", sig)
		_ = listener.Close()
		server.closeAll()
	}()

	log.Printf("fakeplc %s listening on %s  (plc=%q vars=%d)",
		*flagVersion, *flagAddr, *flagVersionPLC, table.count())

	for {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			log.Printf("fakeplc: listener closed, exiting")
			return
		}
		go server.handleConnection(conn)
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakeplc — deterministic PlcComS-protocol TCP responder for testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
