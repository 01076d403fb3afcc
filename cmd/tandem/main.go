// File: cmd/tandem/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/tandem-cli/cmd"
	"github.com/xkilldash9x/tandem-cli/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
  _                    _
 | |_ __ _ _ __   __| | ___ _ __ ___
 | __/ _' | '_ \ / _' |/ _ \ '_ ' _ \
 | || (_| | | | | (_| |  __/ | | | | |
  \__\__,_|_| |_|\__,_|\___|_| |_| |_|

 planner + executor browser automation
 type a command (run, plan, interactive, version) or 'exit'

`

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit = os.Exit
	// Allows swapping the command runner in shell tests.
	executeLine = executeInteractiveCommand
)

// main is the entry point of the application.
func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// If arguments are passed, execute the command directly and exit.
	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				osExit(1)
			}
		}
		return
	}

	fmt.Print(banner)
	if err := runShell(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
	fmt.Println("Exiting tandem.")
}

// runShell reads command lines until exit, EOF or cancellation.
func runShell(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil {
		fmt.Fprint(out, "tandem > ")
		if !scanner.Scan() {
			break // Exit on EOF (Ctrl+D)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeLine(ctx, line)
	}
	return scanner.Err()
}

// executeInteractiveCommand parses and runs the command from the interactive shell.
func executeInteractiveCommand(ctx context.Context, line string) {
	// A fresh command per line keeps flags from one command out of the next.
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(strings.Fields(line))

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Error: Command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// cobra already printed the error; the shell keeps going.
		observability.GetLogger().Debug("Interactive command failed")
	}
}

// handlePanic writes the panic and its stack trace to panic.log.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			osExit(1)
			return // Return facilitates testing when osExit is mocked.
		}

		fmt.Fprintf(os.Stderr, "\nCRASH DETECTED. Details logged to %s\n", panicLogFile)
		osExit(2)
	}
}
