package bootstrap

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"sync"

	"clustertest/pkg/logging"
)

// lineWatch is an outstanding request to be told about a matching line.
type lineWatch struct {
	pattern *regexp.Regexp
	matched chan struct{}
}

// logCapture captures stdout and stderr from a process line by line.
type logCapture struct {
	stdoutBuf    bytes.Buffer
	stderrBuf    bytes.Buffer
	combinedBuf  bytes.Buffer
	stdoutReader *io.PipeReader
	stderrReader *io.PipeReader
	stdoutWriter *io.PipeWriter
	stderrWriter *io.PipeWriter

	// subsystem and stream control forwarding lines to the logger
	subsystem string
	stream    bool

	watches []*lineWatch
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// newLogCapture starts capturing. With stream set every line is also logged
// under subsystem.
func newLogCapture(subsystem string, stream bool) *logCapture {
	lc := &logCapture{
		subsystem: subsystem,
		stream:    stream,
	}

	lc.stdoutReader, lc.stdoutWriter = io.Pipe()
	lc.stderrReader, lc.stderrWriter = io.Pipe()

	lc.wg.Add(2)
	go lc.captureOutput(lc.stdoutReader, &lc.stdoutBuf, "stdout")
	go lc.captureOutput(lc.stderrReader, &lc.stderrBuf, "stderr")

	return lc
}

func (lc *logCapture) captureOutput(reader io.Reader, buffer *bytes.Buffer, stream string) {
	defer lc.wg.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lc.addLine(scanner.Text(), buffer, stream)
	}
	// Keep draining so the process never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, reader)
}

func (lc *logCapture) addLine(line string, buffer *bytes.Buffer, stream string) {
	lc.mu.Lock()
	buffer.WriteString(line + "\n")
	lc.combinedBuf.WriteString(line + "\n")

	remaining := lc.watches[:0]
	for _, w := range lc.watches {
		if w.pattern.MatchString(line) {
			close(w.matched)
			continue
		}
		remaining = append(remaining, w)
	}
	lc.watches = remaining
	lc.mu.Unlock()

	if lc.stream {
		logging.Info(lc.subsystem, "[%s] %s", stream, line)
	}
}

// watch returns a channel that is closed once a captured line matches pattern.
// Lines captured before the call are considered too.
func (lc *logCapture) watch(pattern *regexp.Regexp) <-chan struct{} {
	w := &lineWatch{pattern: pattern, matched: make(chan struct{})}

	lc.mu.Lock()
	defer lc.mu.Unlock()

	scanner := bufio.NewScanner(bytes.NewReader(lc.combinedBuf.Bytes()))
	for scanner.Scan() {
		if pattern.MatchString(scanner.Text()) {
			close(w.matched)
			return w.matched
		}
	}
	lc.watches = append(lc.watches, w)
	return w.matched
}

// close closes the capture pipes and waits for the readers to finish.
func (lc *logCapture) close() {
	lc.stdoutWriter.Close()
	lc.stderrWriter.Close()
	lc.wg.Wait()
}

// logs returns the captured output.
func (lc *logCapture) logs() Logs {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	stdout := lc.stdoutBuf.String()
	stderr := lc.stderrBuf.String()

	return Logs{
		Stdout:   stdout,
		Stderr:   stderr,
		Combined: lc.combinedBuf.String(),
	}
}
