package trace

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"
)

// Runner executes one path-trace against a single address, delivering output
// lines as they arrive. Run blocks until the trace finishes or ctx is
// cancelled; cancellation kills the underlying process.
type Runner interface {
	Run(ctx context.Context, address string, hopTimeout time.Duration, onLine func(string)) error
}

// CommandRunner shells out to the system traceroute. DNS resolution is
// disabled and one probe is sent per hop.
type CommandRunner struct {
	// Command overrides the executable name. Defaults to "traceroute".
	Command string
}

func (r *CommandRunner) Run(ctx context.Context, address string, hopTimeout time.Duration, onLine func(string)) error {
	name := r.Command
	if name == "" {
		name = "traceroute"
	}
	wait := strconv.FormatFloat(hopTimeout.Seconds(), 'f', 1, 64)
	cmd := exec.CommandContext(ctx, name, "-n", "-q", "1", "-w", wait, address)

	// Both streams feed the same line sink so stderr diagnostics land in the
	// transcript too.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("trace: spawn %s: %w", name, err)
	}

	waitDone := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitDone <- err
	}()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	readErr := scanner.Err()
	waitErr := <-waitDone

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if readErr != nil {
		return fmt.Errorf("trace: read output: %w", readErr)
	}
	if waitErr != nil {
		return fmt.Errorf("trace: %s exited: %w", name, waitErr)
	}
	return nil
}
