package bridge

import (
	"fmt"
	"time"
)

const (
	defaultTimeout       = 60 * time.Second
	defaultMaxConcurrent = 4
	defaultExitGrace     = 2 * time.Second
	defaultMaxReplyBytes = 64 * 1024 * 1024
)

// RunnerSpec describes how to start the runner program for one model kind and
// how many of them may run at once.
type RunnerSpec struct {
	Path string
	Args []string
	Env  []string
	Dir  string

	// Timeout bounds a whole invocation, from checkout to reply.
	Timeout time.Duration
	// MaxConcurrent bounds in-flight invocations for the kind.
	MaxConcurrent int
	// Warm is the number of idle pre-spawned processes kept ready.
	Warm int
	// QueueTimeout is how long a request may wait for a free slot. Zero rejects
	// immediately when every slot is taken.
	QueueTimeout time.Duration
	// ExitGrace is how long a process may keep running after its reply.
	ExitGrace time.Duration
	// MaxReplyBytes bounds a single stdout line.
	MaxReplyBytes int
}

func (s RunnerSpec) WithDefaults() RunnerSpec {
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = defaultMaxConcurrent
	}
	if s.Warm < 0 {
		s.Warm = 0
	}
	if s.QueueTimeout < 0 {
		s.QueueTimeout = 0
	}
	if s.ExitGrace <= 0 {
		s.ExitGrace = defaultExitGrace
	}
	if s.MaxReplyBytes <= 0 {
		s.MaxReplyBytes = defaultMaxReplyBytes
	}
	return s
}

func (s RunnerSpec) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("runner path is empty")
	}
	return nil
}
