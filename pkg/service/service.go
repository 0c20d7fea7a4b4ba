package service

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// Logger is the part of *log.Logger the directory components use.
type Logger interface {
	Printf(format string, v ...any)
	Println(v ...any)
}

// Service is a long running component started alongside the HTTP server.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// DefaultLogger writes to stderr with the standard flags.
func DefaultLogger(prefix string) Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// DeferRecover logs a recovered panic with its stack. Use it as a deferred
// call in goroutines that must survive a failing iteration.
func DeferRecover(logger Logger) {
	if p := recover(); p != nil {
		if logger == nil {
			fmt.Fprintln(os.Stderr, p, string(debug.Stack()))
			return
		}
		logger.Printf("panic recovered: %v\n%s", p, debug.Stack())
	}
}
