package batch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives progress updates during a batch run.
// Callbacks must be safe for concurrent use; workers report from their
// own goroutines.
type ProgressCallback interface {
	// OnStart is called once with the number of discovered files.
	OnStart(total int)

	// OnProgress is called after each file finishes.
	OnProgress(current, total int)

	// OnComplete is called when the run is finished.
	OnComplete()

	// OnError is called when a file fails.
	OnError(path string, err error)
}

// NoOpProgress discards all progress updates.
type NoOpProgress struct{}

func (NoOpProgress) OnStart(total int)              {}
func (NoOpProgress) OnProgress(current, total int)  {}
func (NoOpProgress) OnComplete()                    {}
func (NoOpProgress) OnError(path string, err error) {}

// ConsoleProgress draws a progress bar on a terminal.
type ConsoleProgress struct {
	writer     io.Writer
	prefix     string
	width      int
	interval   time.Duration
	mu         sync.Mutex
	lastUpdate time.Time
	startTime  time.Time
}

// NewConsoleProgress creates a console progress reporter. A nil writer
// defaults to stderr.
func NewConsoleProgress(writer io.Writer, prefix string) *ConsoleProgress {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgress{
		writer:   writer,
		prefix:   prefix,
		width:    40,
		interval: 100 * time.Millisecond,
	}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgress) WithWidth(width int) *ConsoleProgress {
	if width > 0 {
		c.width = width
	}
	return c
}

// WithInterval sets the minimum time between redraws.
func (c *ConsoleProgress) WithInterval(interval time.Duration) *ConsoleProgress {
	if interval > 0 {
		c.interval = interval
	}
	return c
}

func (c *ConsoleProgress) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d (0.0%%)\n", c.prefix, total)
}

func (c *ConsoleProgress) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.interval && current < total {
		return
	}
	c.lastUpdate = now
	c.draw(current, total, now)
}

func (c *ConsoleProgress) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime).Round(time.Millisecond)
	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted in %v\n", c.prefix, elapsed)
}

func (c *ConsoleProgress) OnError(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%s%s: %v\n", c.prefix, path, err)
}

func (c *ConsoleProgress) draw(current, total int, now time.Time) {
	if total == 0 {
		return
	}

	percent := float64(current) / float64(total) * 100.0
	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d (%.1f%%)", c.prefix, bar, current, total, percent)

	if elapsed := now.Sub(c.startTime); elapsed > 0 && current > 0 {
		rate := float64(current) / elapsed.Seconds()
		status += fmt.Sprintf(" %.1f/s", rate)
		if current < total {
			eta := time.Duration(elapsed.Seconds()/float64(current)*float64(total-current)) * time.Second
			status += fmt.Sprintf(" ETA: %v", eta)
		}
	}

	_, _ = fmt.Fprint(c.writer, status)
}

// LogProgress reports progress through a structured logger, logging
// every N files rather than every update.
type LogProgress struct {
	logger   *slog.Logger
	interval int
	mu       sync.Mutex
	lastLog  int
	start    time.Time
}

// NewLogProgress creates a log-based progress reporter. A nil logger
// defaults to slog.Default.
func NewLogProgress(logger *slog.Logger) *LogProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgress{logger: logger, interval: 10}
}

// WithInterval sets how many files pass between log lines.
func (l *LogProgress) WithInterval(interval int) *LogProgress {
	if interval > 0 {
		l.interval = interval
	}
	return l
}

func (l *LogProgress) OnStart(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.start = time.Now()
	l.lastLog = 0
	l.logger.Info("batch started", "total", total)
}

func (l *LogProgress) OnProgress(current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	elapsed := time.Since(l.start)
	l.logger.Info("batch progress",
		"current", current,
		"total", total,
		"percent", fmt.Sprintf("%.1f", float64(current)/float64(total)*100.0),
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

func (l *LogProgress) OnComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Info("batch completed", "elapsed", time.Since(l.start).Round(time.Millisecond))
}

func (l *LogProgress) OnError(path string, err error) {
	l.logger.Error("batch file failed", "path", path, "error", err)
}

// MultiProgress fans progress updates out to several callbacks.
type MultiProgress struct {
	callbacks []ProgressCallback
}

// NewMultiProgress creates a callback that reports to every argument.
func NewMultiProgress(callbacks ...ProgressCallback) *MultiProgress {
	return &MultiProgress{callbacks: callbacks}
}

func (m *MultiProgress) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgress) OnProgress(current, total int) {
	for _, cb := range m.callbacks {
		cb.OnProgress(current, total)
	}
}

func (m *MultiProgress) OnComplete() {
	for _, cb := range m.callbacks {
		cb.OnComplete()
	}
}

func (m *MultiProgress) OnError(path string, err error) {
	for _, cb := range m.callbacks {
		cb.OnError(path, err)
	}
}
