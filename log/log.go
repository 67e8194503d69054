package log

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

const (
	logWriterSize      = 256 * 1024
	logBufferSize      = 64 * 1024
	logQueueShrinkSize = 1024 * 1024
)

const (
	DebugLevel uint64 = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelChars = [4]byte{'D', 'I', 'W', 'E'}

type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Shutdown()
}

type handler interface {
	handle(info logInfo)
}

type logInfo struct {
	level uint64
	time  time.Time
	file  string
	line  int
	msg   string
}

type logger struct {
	h     handler
	level uint64
}

func newLogger(h handler, level uint64) *logger {
	return &logger{h: h, level: level}
}

func (l *logger) Debug(format string, args ...interface{}) {
	l.output(DebugLevel, format, args...)
}

func (l *logger) Info(format string, args ...interface{}) {
	l.output(InfoLevel, format, args...)
}

func (l *logger) Warn(format string, args ...interface{}) {
	l.output(WarnLevel, format, args...)
}

func (l *logger) Error(format string, args ...interface{}) {
	l.output(ErrorLevel, format, args...)
}

func (l *logger) output(level uint64, format string, args ...interface{}) {
	if level < l.level || level > ErrorLevel {
		return
	}
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	l.h.handle(logInfo{
		level: level,
		time:  time.Now(),
		file:  file,
		line:  line,
		msg:   fmt.Sprintf(format, args...),
	})
}

// Line format: [DIWE]yyyymmdd hh:mm:ss.uuuuuu file:line] msg
func (l *logger) formatLogInfo(buf *[]byte, info logInfo) {
	year, month, day := info.time.Date()
	hour, minute, sec := info.time.Clock()
	*buf = append(*buf, levelChars[info.level])
	*buf = append(*buf, fmt.Sprintf("%04d%02d%02d %02d:%02d:%02d.%06d %s:%d] ",
		year, int(month), day, hour, minute, sec,
		info.time.Nanosecond()/1000, info.file, info.line)...)
	*buf = append(*buf, info.msg...)
	if n := len(*buf); n == 0 || (*buf)[n-1] != '\n' {
		*buf = append(*buf, '\n')
	}
}
