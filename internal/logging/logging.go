// Package logging provides prefixed loggers in the style of the teacher's
// cmd/autobuilder logWriter: a component that uses it gets a *log.Logger
// tagged with its own name instead of writing to the bare global logger.
package logging

import (
	"fmt"
	"log"
)

// writer re-emits each Write through an underlying logger at a fixed call
// depth, so file:line in the output points at the caller, not here.
type writer struct{ underlying *log.Logger }

func (w writer) Write(p []byte) (n int, err error) {
	w.underlying.Output(4, string(p))
	return len(p), nil
}

// New returns a logger prefixed with "[name]", writing through the standard
// logger's destination.
func New(name string) *log.Logger {
	return log.New(writer{
		log.New(log.Writer(), "", log.LstdFlags|log.Lshortfile),
	}, fmt.Sprintf("[%s] ", name), 0)
}

// Named is like New but additionally annotates the prefix with an instance
// identifier, e.g. the package name being built.
func Named(component, instance string) *log.Logger {
	return New(fmt.Sprintf("%s %s", component, instance))
}
