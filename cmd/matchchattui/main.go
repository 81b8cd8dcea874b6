package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/matchchat/internal/api"
	"github.com/matheus3301/matchchat/internal/session"
	"github.com/matheus3301/matchchat/internal/tui"
)

const daemonStartTimeout = 10 * time.Second

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)
	if err := ensureDaemon(sessionName, socketPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, sessionName)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon reports whether a daemon answers a status call on the socket.
func probeDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = c.Status(ctx)
	return err == nil
}

// ensureDaemon starts matchchatd for the session unless one already answers
// on the socket, then waits until it does.
func ensureDaemon(sessionName, socketPath string) error {
	if probeDaemon(socketPath) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "starting matchchatd for session %q\n", sessionName)

	bin := "matchchatd"
	if exe, err := os.Executable(); err == nil {
		if sibling := filepath.Join(filepath.Dir(exe), bin); fileExists(sibling) {
			bin = sibling
		}
	}
	cmd := exec.Command(bin, "--session", sessionName)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	go func() { _ = cmd.Wait() }()

	for deadline := time.Now().Add(daemonStartTimeout); time.Now().Before(deadline); time.Sleep(300 * time.Millisecond) {
		if probeDaemon(socketPath) {
			return nil
		}
	}
	return fmt.Errorf("matchchatd did not answer within %s", daemonStartTimeout)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
