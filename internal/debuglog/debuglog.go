// Package debuglog records the trip detector's decisions to an append-only
// text log, rotated each time a trip is committed.
//
// Each entry is two lines: an RFC 3339 UTC timestamp, then
// "<op>|<trip id>|<payload>".
package debuglog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Op byte

const (
	OpStartTrip   Op = 'S'
	OpEndTrip     Op = 'E'
	OpDeferredEnd Op = 'D'
	OpActivity    Op = 'A'
	OpPosition    Op = 'P'
	OpNewTrip     Op = 'T'
)

// Sink receives trip detector events. Implementations must be safe for
// concurrent use: deferred finishes log from timer goroutines.
type Sink interface {
	StartTrip()
	EndTrip()
	DeferredEnd()
	Activity(activity, confidence int)
	Position(lat, lon, added, total float64)
	NewTrip(d time.Duration, distance float64)
	Commit() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) StartTrip()                                  {}
func (Nop) EndTrip()                                    {}
func (Nop) DeferredEnd()                                {}
func (Nop) Activity(int, int)                           {}
func (Nop) Position(float64, float64, float64, float64) {}
func (Nop) NewTrip(time.Duration, float64)              {}
func (Nop) Commit() error                               { return nil }

// File appends entries to a log file.
type File struct {
	path string
	now  func() time.Time

	mu   sync.Mutex
	trip string
	err  error
}

func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

func (f *File) Path() string { return f.path }

// Err returns the first write error, if any. Logging never fails the caller.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *File) StartTrip() {
	f.mu.Lock()
	f.trip = uuid.NewString()
	f.mu.Unlock()
	f.entry(OpStartTrip, "Starting bike trip")
}

func (f *File) EndTrip() {
	f.entry(OpEndTrip, "Ending bike trip")
}

func (f *File) DeferredEnd() {
	f.entry(OpDeferredEnd, "Deferred end trip installed")
}

func (f *File) Activity(activity, confidence int) {
	f.entry(OpActivity, fmt.Sprintf("%d,%d", activity, confidence))
}

func (f *File) Position(lat, lon, added, total float64) {
	f.entry(OpPosition, strings.Join([]string{
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64),
		strconv.FormatFloat(math.Round(added), 'f', 0, 64),
		strconv.FormatFloat(math.Round(total), 'f', 0, 64),
	}, ","))
}

func (f *File) NewTrip(d time.Duration, distance float64) {
	f.entry(OpNewTrip, fmt.Sprintf("%d,%s", d.Milliseconds(), strconv.FormatFloat(math.Round(distance), 'f', 0, 64)))
}

func (f *File) entry(op Op, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := fmt.Sprintf("%s\n%c|%s|%s\n", f.now().UTC().Format(time.RFC3339Nano), op, f.trip, payload)
	if err := appendFile(f.path, line); err != nil && f.err == nil {
		f.err = err
	}
}

func appendFile(path, s string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fd.WriteString(s); err != nil {
		_ = fd.Close()
		return err
	}
	return fd.Close()
}

// Commit moves the current log aside, suffixed with the commit time, and
// starts a fresh one. An empty or missing log is left alone.
func (f *File) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat trip log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	rotated := f.path + "." + f.now().UTC().Format("20060102T150405.000Z")
	if err := os.Rename(f.path, rotated); err != nil {
		return fmt.Errorf("rotate trip log: %w", err)
	}
	f.trip = ""
	return nil
}

// Entry is one parsed log record.
type Entry struct {
	Time    time.Time
	Op      Op
	Trip    string
	Payload string
}

// ReadEntries parses a trip log.
func ReadEntries(r io.Reader) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		stamp := sc.Text()
		if stamp == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return out, fmt.Errorf("entry %d: %w", len(out), err)
		}
		if !sc.Scan() {
			return out, fmt.Errorf("entry %d: missing record line", len(out))
		}
		parts := strings.SplitN(sc.Text(), "|", 3)
		if len(parts) != 3 || len(parts[0]) != 1 {
			return out, fmt.Errorf("entry %d: malformed record %q", len(out), sc.Text())
		}
		out = append(out, Entry{Time: t, Op: Op(parts[0][0]), Trip: parts[1], Payload: parts[2]})
	}
	return out, sc.Err()
}
