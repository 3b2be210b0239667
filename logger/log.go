package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDirectory = "logs"
	logFileName  = "consensus.log"
)

func init() {
	color.NoColor = false
}

// LoggerI is the leveled logging interface threaded through the engine, the
// bus, and the simulation driver.
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	With(prefix string) LoggerI
}

// Log levels. A logger emits messages at or above its configured level.
const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8
)

var _ LoggerI = (*Logger)(nil)

// Config holds the logger settings. Out defaults to stdout; set DataDir to
// additionally write to a rotating file under <DataDir>/logs.
type Config struct {
	Level   int32
	Out     io.Writer
	DataDir string
}

// Logger writes colored, timestamped, level-tagged lines to a single writer.
// Safe for concurrent use; per-node loggers share the parent's writer and
// mutex so interleaved lines never tear.
type Logger struct {
	config Config
	prefix string
	mu     *sync.Mutex
}

// New creates a logger from a config. When the config names a data
// directory, output tees to stdout and a rotating log file.
func New(config Config) (*Logger, error) {
	if config.Out == nil {
		config.Out = os.Stdout
		if config.DataDir != "" {
			dir := filepath.Join(config.DataDir, logDirectory)
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, err
			}
			logFile := &lumberjack.Logger{
				Filename:   filepath.Join(dir, logFileName),
				MaxSize:    25, // megabytes
				MaxBackups: 10,
				MaxAge:     14, // days
				Compress:   true,
			}
			config.Out = io.MultiWriter(os.Stdout, logFile)
		}
	}
	return &Logger{config: config, mu: new(sync.Mutex)}, nil
}

// NewDefault creates a logger writing to stdout at Info level.
func NewDefault() *Logger {
	l, _ := New(Config{Level: InfoLevel, Out: os.Stdout})
	return l
}

// NewNop creates a logger that discards everything.
func NewNop() *Logger {
	l, _ := New(Config{Level: ErrorLevel + 1, Out: io.Discard})
	return l
}

// With returns a logger that prepends a prefix to every message. Used to tag
// per-node output inside a cluster.
func (l *Logger) With(prefix string) LoggerI {
	child := *l
	if l.prefix != "" {
		prefix = l.prefix + " " + prefix
	}
	child.prefix = prefix
	return &child
}

func (l *Logger) Debug(msg string) {
	if l.config.Level <= DebugLevel {
		l.write(color.BlueString("DEBUG: " + l.tag(msg)))
	}
}

func (l *Logger) Info(msg string) {
	if l.config.Level <= InfoLevel {
		l.write(color.GreenString("INFO:  " + l.tag(msg)))
	}
}

func (l *Logger) Warn(msg string) {
	if l.config.Level <= WarnLevel {
		l.write(color.YellowString("WARN:  " + l.tag(msg)))
	}
}

func (l *Logger) Error(msg string) {
	if l.config.Level <= ErrorLevel {
		l.write(color.RedString("ERROR: " + l.tag(msg)))
	}
}

// Fatal logs at error color and terminates the process. Reserved for
// invariant violations that leave no sane continuation.
func (l *Logger) Fatal(msg string) {
	l.write(color.RedString("FATAL: " + l.tag(msg)))
	os.Exit(1)
}

func (l *Logger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...any) { l.Fatal(fmt.Sprintf(format, args...)) }

func (l *Logger) tag(msg string) string {
	if l.prefix == "" {
		return msg
	}
	return l.prefix + " " + msg
}

func (l *Logger) write(msg string) {
	stamp := color.HiBlackString(time.Now().Format(time.StampMilli))
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.config.Out, "%s %s\n", stamp, msg); err != nil {
		fmt.Println("log write failed:", err)
	}
}
