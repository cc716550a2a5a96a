// Package plccoms implements a client for the PlcComS protocol used by
// Tecomat Foxtrot PLCs. PlcComS is a line-oriented text protocol over a
// persistent TCP connection (default port 5010, Windows-1250 encoded,
// CRLF-terminated lines) for reading and writing named PLC variables and
// receiving unsolicited DIFF change notifications for monitored variables.
//
// The Client owns a single connection, a background receive loop that
// correlates responses with in-flight requests, a subscription registry
// for change callbacks, and a reconnection supervisor that re-establishes
// wire monitoring after an unexpected connection loss.
package plccoms
