// Package logger предоставляет логирование с именем сервиса и асинхронной записью,
// чтобы не блокировать обработчики событий. Запись идёт через zerolog.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	asyncBufferSize = 8192
	slowThreshold   = 100 * time.Millisecond
)

type entry struct {
	level zerolog.Level
	msg   string
	fn    string
	dur   time.Duration
}

var (
	mu      sync.RWMutex
	service string
	debug   bool
	out     io.Writer = os.Stdout
	zl      zerolog.Logger
	ch      chan entry
	once    sync.Once
)

func initWorker() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		debug = true
	}
	mu.Lock()
	zl = newZerolog(out)
	mu.Unlock()
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			write(e)
		}
	}()
}

func newZerolog(w io.Writer) zerolog.Logger {
	if os.Getenv("LOG_FORMAT") == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func write(e entry) {
	mu.RLock()
	l := zl
	svc := service
	mu.RUnlock()
	ev := l.WithLevel(e.level)
	if svc != "" {
		ev = ev.Str("service", svc)
	}
	if e.fn != "" {
		ev = ev.Str("fn", e.fn).Int64("duration_ms", e.dur.Milliseconds())
	}
	ev.Msg(e.msg)
}

func enqueue(e entry) {
	once.Do(initWorker)
	select {
	case ch <- e:
	default:
		// Буфер полон — не блокируем, теряем лог
	}
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "api", "push").
func SetPrefix(p string) {
	mu.Lock()
	service = p
	mu.Unlock()
}

// SetOutput перенаправляет вывод (используется в тестах).
func SetOutput(w io.Writer) {
	once.Do(initWorker)
	mu.Lock()
	out = w
	zl = newZerolog(w)
	mu.Unlock()
}

func Info(v ...any) {
	enqueue(entry{level: zerolog.InfoLevel, msg: fmt.Sprint(v...)})
}

func Infof(format string, v ...any) {
	enqueue(entry{level: zerolog.InfoLevel, msg: fmt.Sprintf(format, v...)})
}

func Error(v ...any) {
	enqueue(entry{level: zerolog.ErrorLevel, msg: fmt.Sprint(v...)})
}

func Errorf(format string, v ...any) {
	enqueue(entry{level: zerolog.ErrorLevel, msg: fmt.Sprintf(format, v...)})
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if !debug {
		return
	}
	enqueue(entry{level: zerolog.DebugLevel, msg: fmt.Sprintf(format, v...)})
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug — все.
func LogDuration(fn string, start time.Time) {
	once.Do(initWorker)
	elapsed := time.Since(start)
	if debug || elapsed >= slowThreshold {
		enqueue(entry{level: zerolog.InfoLevel, msg: "timing", fn: fn, dur: elapsed})
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
