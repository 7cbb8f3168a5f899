// Package daemon hosts the long-running orchestrator process: the HTTP API
// surface, the background sweeper that keeps runs moving between client
// polls, and the single-instance lock.
package daemon
