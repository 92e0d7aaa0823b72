package logger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want level
	}{
		{"debug", levelDebug},
		{"TRACE", levelDebug},
		{" debug ", levelDebug},
		{"info", levelInfo},
		{"", levelInfo},
		{"verbose", levelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	assert.True(t, debugEnabled())
	SetLevel("info")
	assert.False(t, debugEnabled())
}

func TestTag(t *testing.T) {
	SetPrefix("")
	assert.Equal(t, "", tag())
	SetPrefix("api")
	assert.Equal(t, "[api] ", tag())
	SetPrefix("")
}

func TestLoggingDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	go func() {
		for i := 0; i < asyncBufferSize*2; i++ {
			Infof("line %d", i)
		}
		LogDuration("test", time.Now())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("logging blocked")
	}
}
