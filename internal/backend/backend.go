package backend

import (
	"strings"
	"time"
	"unicode/utf8"
)

// BackendProvider is a string identifier for an external tool.
type BackendProvider string

const (
	BackendProviderFFmpeg      BackendProvider = "ffmpeg"
	BackendProviderWav2Lip     BackendProvider = "wav2lip"
	BackendProviderHuggingFace BackendProvider = "huggingface-cli"
)

// Command describes one external process invocation.
type Command struct {
	// Name is the executable path or a name resolved through PATH.
	Name string

	// Args are passed verbatim; no shell is involved.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds KEY=VALUE pairs appended to the parent environment.
	Env []string
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	Dir      string        `json:"dir,omitempty"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StderrTail returns at most the last n bytes of stderr, trimmed of whitespace.
// Tools such as ffmpeg print the useful diagnostic at the end.
func (l CommandLog) StderrTail(n int) string {
	s := strings.TrimSpace(l.Stderr)
	if n <= 0 || len(s) <= n {
		return s
	}
	return "..." + runeTail(s[len(s)-n:])
}

// runeTail drops leading bytes of a rune cut off at the start of s.
func runeTail(s string) string {
	for i := 0; i < len(s) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(s[i]) {
			return s[i:]
		}
	}
	return s
}
