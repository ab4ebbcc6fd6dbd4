package supervisor

import (
	"bufio"
	"io"
	"os/exec"

	"golang.org/x/sync/errgroup"
)

// pipeChildOutput wires the child's stdout and stderr into ch, one line at a
// time, via a pair of goroutines coordinated by an errgroup. It returns
// immediately; the readers run until their pipe hits EOF (i.e. until the
// process exits and closes its ends), which is how a reader failure is
// absorbed silently — the authoritative completion signal is the process
// exit status, observed separately via Wait/TryWait.
func pipeChildOutput(cmd *exec.Cmd, ch chan<- string) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error {
		scanLines(stdout, ch)
		return nil
	})
	g.Go(func() error {
		scanLines(stderr, ch)
		return nil
	})
	go func() { _ = g.Wait() }()

	return nil
}

func scanLines(r io.Reader, ch chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case ch <- scanner.Text():
		default:
			// Channel full: drop the line rather than block the reader.
		}
	}
}
