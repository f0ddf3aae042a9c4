package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/journeyos/godeye/config"
	"github.com/mattn/go-isatty"
	kunlog "github.com/yaoapp/kun/log"
)

// Logger tags kun/log lines with a component name. In development mode,
// when stdout is a terminal, lines are mirrored to the console in color.
type Logger struct {
	tag string
}

var (
	console io.Writer = os.Stdout

	traceColor = color.New(color.FgHiBlack)
	debugColor = color.New(color.FgHiBlack)
	infoColor  = color.New(color.FgCyan)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
)

// New creates a Logger tagged with the given component name
// (e.g. "daemon", "admin", "watch").
func New(tag string) *Logger {
	return &Logger{tag: tag}
}

func (l *Logger) prefix() string {
	return fmt.Sprintf("[godeye:%s]", l.tag)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.echo(traceColor, "→", msg)
	kunlog.Trace("%s %s", l.prefix(), msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.echo(debugColor, "•", msg)
	kunlog.Debug("%s %s", l.prefix(), msg)
}

func (l *Logger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.echo(infoColor, "ℹ", msg)
	kunlog.Info("%s %s", l.prefix(), msg)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.echo(warnColor, "⚠", msg)
	kunlog.Warn("%s %s", l.prefix(), msg)
}

func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.echo(errorColor, "✗", msg)
	kunlog.Error("%s %s", l.prefix(), msg)
}

func (l *Logger) echo(c *color.Color, mark, msg string) {
	if !IsDev() {
		return
	}
	c.Fprintf(console, "  %s %s %s\n", mark, l.prefix(), msg)
}

// IsDev reports whether console mirroring is on.
func IsDev() bool {
	return config.IsDevelopment() && isTerminal()
}

var isTerminal = func() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Raw writes pre-formatted text to the console in development mode only.
func Raw(s string) {
	if IsDev() {
		fmt.Fprint(console, s)
	}
}
