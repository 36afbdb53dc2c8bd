// Package methodlog records nested method calls with their arguments,
// timing and errors. A connection logs each call on entry and exit, calls
// made while another is running become its sub entries.
package methodlog

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultMaxSize is the number of root entries kept by default.
const DefaultMaxSize = 100

// TimestampLayout is used when printing entries.
const TimestampLayout = "2006-01-02 15:04:05.000"

var (
	// ErrEmptyCallStack is returned by Exit when no call is being logged.
	ErrEmptyCallStack = errors.New("methodlog: call stack is empty")
	// ErrMethodMismatch is returned by Exit when the method does not match
	// the last accessed one.
	ErrMethodMismatch = errors.New("methodlog: method mismatch")
)

// ArgumentFormatter formats method arguments for the access message.
type ArgumentFormatter interface {
	Format(arg any) string
}

// ArgumentFormatterFunc adapts a function to ArgumentFormatter.
type ArgumentFormatterFunc func(any) string

// Format calls f(arg).
func (f ArgumentFormatterFunc) Format(arg any) string { return f(arg) }

// DefaultFormatter formats arguments with fmt.
var DefaultFormatter ArgumentFormatter = ArgumentFormatterFunc(func(arg any) string {
	return fmt.Sprint(arg)
})

// Logger logs method access and exit. It is safe for concurrent use,
// although calls are expected to be made from one goroutine at a time.
type Logger struct {
	mu        sync.Mutex
	enabled   bool
	maxSize   int
	formatter ArgumentFormatter
	stack     []*Entry
	entries   []*Entry
}

// Option configures a Logger.
type Option func(*Logger)

// WithMaxSize sets the number of root entries kept.
func WithMaxSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// WithFormatter sets the argument formatter.
func WithFormatter(f ArgumentFormatter) Option {
	return func(l *Logger) {
		if f != nil {
			l.formatter = f
		}
	}
}

// Enabled sets the initial enabled state.
func Enabled(enabled bool) Option {
	return func(l *Logger) {
		l.enabled = enabled
	}
}

// New returns a new disabled Logger.
func New(opts ...Option) *Logger {
	l := &Logger{maxSize: DefaultMaxSize, formatter: DefaultFormatter}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Access logs the entry to method. It does nothing when disabled.
func (l *Logger) Access(method string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	l.stack = append(l.stack, &Entry{
		Method:        method,
		AccessMessage: l.format(args),
		AccessTime:    time.Now(),
	})
}

func (l *Logger) format(args []any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = l.formatter.Format(a)
	}
	return strings.Join(parts, ", ")
}

// Exit logs the exit from method, with the error the call returned and
// an optional message. It returns the completed entry, or nil when the
// logger is disabled.
func (l *Logger) Exit(method string, err error, message string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return nil, nil
	}
	if len(l.stack) == 0 {
		return nil, fmt.Errorf("%w: exiting %s", ErrEmptyCallStack, method)
	}
	entry := l.stack[len(l.stack)-1]
	if entry.Method != method {
		return nil, fmt.Errorf("%w: expecting %s but got %s", ErrMethodMismatch, entry.Method, method)
	}
	l.stack = l.stack[:len(l.stack)-1]
	entry.ExitTime = time.Now()
	entry.ExitMessage = message
	if err != nil {
		entry.Error = err.Error()
	}
	if len(l.stack) > 0 {
		parent := l.stack[len(l.stack)-1]
		parent.SubEntries = append(parent.SubEntries, entry)
		return entry, nil
	}
	if len(l.entries) == l.maxSize {
		l.entries[0] = nil
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// SetFormatter replaces the argument formatter. A nil f restores the
// default formatter.
func (l *Logger) SetFormatter(f ArgumentFormatter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f == nil {
		f = DefaultFormatter
	}
	l.formatter = f
}

// IsEnabled reports whether the logger is enabled.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled enables or disables the logger, clearing the log.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
	l.entries = nil
	l.stack = nil
}

// Len returns the number of root entries.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the root entries, oldest first.
func (l *Logger) Entries() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Entry(nil), l.entries...)
}

// Last returns the most recent root entry, or nil.
func (l *Logger) Last() *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1]
}

// String prints the log as an indented tree.
func (l *Logger) String() string {
	var b strings.Builder
	AppendEntries(&b, l.Entries(), 0)
	return b.String()
}

// Entry is a logged method call.
type Entry struct {
	Method        string    `msgpack:"method"`
	AccessMessage string    `msgpack:"access_message,omitempty"`
	AccessTime    time.Time `msgpack:"access_time"`
	ExitMessage   string    `msgpack:"exit_message,omitempty"`
	ExitTime      time.Time `msgpack:"exit_time"`
	Error         string    `msgpack:"error,omitempty"`
	SubEntries    []*Entry  `msgpack:"sub_entries,omitempty"`
}

// Complete reports whether the call has exited.
func (e *Entry) Complete() bool {
	return !e.ExitTime.IsZero()
}

// Duration returns the time spent in the call, zero until it exits.
func (e *Entry) Duration() time.Duration {
	if !e.Complete() {
		return 0
	}
	return e.ExitTime.Sub(e.AccessTime)
}

// Format prints the entry at the given indentation level, without its
// sub entries.
func (e *Entry) Format(indent int) string {
	pad := strings.Repeat("\t", indent)
	var b strings.Builder
	b.WriteString(pad + e.AccessTime.Format(TimestampLayout) + " @ " + e.Method)
	if e.AccessMessage != "" {
		b.WriteString(": " + e.AccessMessage)
	}
	if !e.Complete() {
		return b.String()
	}
	fmt.Fprintf(&b, "\n%s%s > %d μs", pad, e.ExitTime.Format(TimestampLayout), e.Duration().Microseconds())
	if e.ExitMessage != "" {
		b.WriteString(" (" + e.ExitMessage + ")")
	}
	if e.Error != "" {
		b.WriteString("\n" + pad + "error: " + e.Error)
	}
	return b.String()
}

// String prints the entry without indentation.
func (e *Entry) String() string {
	return e.Format(0)
}

// LogValue implements slog.LogValuer.
func (e *Entry) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("method", e.Method),
		slog.Duration("duration", e.Duration()),
	}
	if e.AccessMessage != "" {
		attrs = append(attrs, slog.String("args", e.AccessMessage))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	if n := len(e.SubEntries); n > 0 {
		attrs = append(attrs, slog.Int("calls", n))
	}
	return slog.GroupValue(attrs...)
}

// AppendEntry appends the entry and its sub entries to b.
func AppendEntry(b *strings.Builder, e *Entry, indent int) {
	if e == nil {
		return
	}
	b.WriteString(e.Format(indent) + "\n")
	AppendEntries(b, e.SubEntries, indent+1)
}

// AppendEntries appends the entries and their sub entries to b.
func AppendEntries(b *strings.Builder, entries []*Entry, indent int) {
	for _, e := range entries {
		AppendEntry(b, e, indent)
	}
}

// Marshal encodes entries with msgpack.
func Marshal(entries []*Entry) ([]byte, error) {
	return msgpack.Marshal(entries)
}

// Unmarshal decodes entries encoded by Marshal.
func Unmarshal(data []byte) ([]*Entry, error) {
	var entries []*Entry
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("methodlog: decode entries: %w", err)
	}
	return entries, nil
}
