// Command subtran is the operator CLI for the subtitle translation daemon.
// It runs the daemon in the foreground and talks to a running daemon over
// the local admin API for everything else.
package main
