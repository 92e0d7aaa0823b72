// Package logger пишет строки лога с префиксом сервиса через буферизованный
// фоновый писатель: горутины запросов и хаба не ждут ввода-вывода.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

// slowThreshold — порог, выше которого LogDuration пишет на уровне info.
const slowThreshold = 100 * time.Millisecond

type level int

const (
	levelDebug level = iota
	levelInfo
)

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	default:
		return levelInfo
	}
}

func initWorker() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		mu.Lock()
		logLevel = parseLevel(v)
		mu.Unlock()
	}
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// буфер полон: строку отбрасываем, вызывающего не блокируем
	}
}

// SetPrefix задаёт метку в начале каждой строки, например "api" или "watch".
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel переопределяет LOG_LEVEL уровнем из конфига ("debug" или "info").
func SetLevel(s string) {
	once.Do(initWorker)
	mu.Lock()
	logLevel = parseLevel(s)
	mu.Unlock()
}

func debugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel == levelDebug
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf пишет только на уровне debug.
func Debugf(format string, v ...any) {
	if !debugEnabled() {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует fn и время выполнения в мс. На уровне info — только
// вызовы дольше 100 мс, на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if debugEnabled() || elapsed >= slowThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration удобно вызывать через defer:
//
//	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
