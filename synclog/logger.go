// Package synclog defines the logging collaborator the core depends on, so
// that the orchestrator and its stages never hard-code a particular GUI or
// CLI output surface.
package synclog

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Logger is the logging/progress/confirmation surface the core depends on.
// Implementations live outside the core (GUI widgets, a CLI renderer); the
// core only ever talks to this interface.
type Logger interface {
	Info(msg string)
	Error(err error)
	Progress(task string, current, total int)
	Fatal(err error)
	Confirm(prompt string) bool
}

// nullLogger discards everything. Used by tests and any caller that wants
// the core to run silently.
type nullLogger struct{}

// Null returns a Logger that discards all output and always confirms true.
func Null() Logger { return nullLogger{} }

func (nullLogger) Info(string)               {}
func (nullLogger) Error(error)                {}
func (nullLogger) Progress(string, int, int) {}
func (nullLogger) Fatal(error)                {}
func (nullLogger) Confirm(string) bool        { return true }

// ConsoleLogger prints to the standard logger, coloring warnings and errors
// the way mutagen's pkg/logging logger does, and prompting on stdin/stdout
// for confirmations.
type ConsoleLogger struct {
	out *log.Logger
	in  io.Reader
}

// NewConsole returns a ConsoleLogger writing to stderr and reading
// confirmations from stdin.
func NewConsole() *ConsoleLogger {
	return &ConsoleLogger{
		out: log.New(os.Stderr, "", log.LstdFlags),
		in:  os.Stdin,
	}
}

func (c *ConsoleLogger) Info(msg string) {
	c.out.Print(msg)
}

func (c *ConsoleLogger) Error(err error) {
	if err == nil {
		return
	}
	c.out.Print(color.RedString("error: %v", err))
}

func (c *ConsoleLogger) Progress(task string, current, total int) {
	c.out.Print(color.CyanString("%s: %d/%d", task, current, total))
}

func (c *ConsoleLogger) Fatal(err error) {
	c.out.Print(color.New(color.FgRed, color.Bold).Sprintf("fatal: %v", err))
}

func (c *ConsoleLogger) Confirm(prompt string) bool {
	fmt.Fprint(os.Stdout, color.YellowString("%s [y/N]: ", prompt))
	scanner := bufio.NewScanner(c.in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
