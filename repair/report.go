package repair

import (
	"fmt"
	"io"
	"sync"
)

// Reporter prints operator messages. Scan workers warn concurrently, so
// every message is written whole under mu.
type Reporter struct {
	mu  *sync.Mutex
	out io.Writer
	err io.Writer
}

func MkReporter(out io.Writer, err io.Writer) *Reporter {
	return &Reporter{
		mu:  new(sync.Mutex),
		out: out,
		err: err,
	}
}

// Log reports progress.
func (r *Reporter) Log(format string, a ...interface{}) {
	r.mu.Lock()
	fmt.Fprintf(r.out, format, a...)
	r.mu.Unlock()
}

// Warn reports a problem found or a change made.
func (r *Reporter) Warn(format string, a ...interface{}) {
	r.mu.Lock()
	fmt.Fprintf(r.err, format, a...)
	r.mu.Unlock()
}
