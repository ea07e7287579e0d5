package main

import (
	"testing"
)

func TestNewRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "listen", "log-level"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing flag %q", name)
		}
	}
	if got := cmd.Flags().Lookup("log-level").DefValue; got != defaultLogLevel {
		t.Errorf("expected default log level %q, got %q", defaultLogLevel, got)
	}
}

func TestNewLogger_LevelParsing(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "bogus"} {
		if logger := newLogger(level); logger == nil {
			t.Errorf("nil logger for level %q", level)
		}
	}
}
