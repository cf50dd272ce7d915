package log

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// capture swaps the package writers for buffers around f.
func capture(f func()) (out, err string) {
	mu.Lock()
	origOut, origErr := stdout, stderr
	var bufOut, bufErr bytes.Buffer
	stdout, stderr = &bufOut, &bufErr
	mu.Unlock()

	defer func() {
		mu.Lock()
		stdout, stderr = origOut, origErr
		mu.Unlock()
	}()

	f()
	return bufOut.String(), bufErr.String()
}

func resetState(t *testing.T) {
	t.Helper()
	mu.Lock()
	origVerbose, origForce, origDisable := verbose, forceStdErr, disableLogs
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		verbose, forceStdErr, disableLogs = origVerbose, origForce, origDisable
		mu.Unlock()
	})
}

func TestDebugfRespectsVerbose(t *testing.T) {
	resetState(t)

	SetVerbose(false)
	out, errOut := capture(func() { Debugf("hidden") })
	if out != "" || errOut != "" {
		t.Errorf("expected no output with verbose off, got stdout=%q stderr=%q", out, errOut)
	}

	SetVerbose(true)
	out, _ = capture(func() { Debugf("shown %d", 1) })
	if !strings.Contains(out, "[DBG]") || !strings.Contains(out, "shown 1") {
		t.Errorf("expected debug output, got %q", out)
	}
}

func TestErrorfGoesToStderr(t *testing.T) {
	resetState(t)

	out, errOut := capture(func() { Errorf("boom: %v", io.EOF) })
	if out != "" {
		t.Errorf("expected empty stdout for errors, got %q", out)
	}
	if !strings.Contains(errOut, "[ERR]") || !strings.Contains(errOut, "boom: EOF") {
		t.Errorf("expected error output on stderr, got %q", errOut)
	}
}

func TestForceStdErr(t *testing.T) {
	resetState(t)

	SetForceStdErr(true)
	out, errOut := capture(func() { Infof("redirected") })
	if out != "" {
		t.Errorf("expected empty stdout with forceStdErr, got %q", out)
	}
	if !strings.Contains(errOut, "[INF]") || !strings.Contains(errOut, "redirected") {
		t.Errorf("expected info on stderr, got %q", errOut)
	}
}

func TestLevelPrefixes(t *testing.T) {
	resetState(t)
	SetVerbose(true)

	tests := []struct {
		name    string
		logFunc func(string, ...interface{})
		prefix  string
	}{
		{"Debug", Debugf, "[DBG]"},
		{"Info", Infof, "[INF]"},
		{"Warn", Warnf, "[WRN]"},
		{"Error", Errorf, "[ERR]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := capture(func() { tt.logFunc("message") })
			if !strings.Contains(out+errOut, tt.prefix) {
				t.Errorf("expected prefix %s, got %q", tt.prefix, out+errOut)
			}
		})
	}
}

func TestDisableLogs(t *testing.T) {
	resetState(t)

	DisableLogs()
	out, errOut := capture(func() {
		Infof("silent")
		Errorf("silent")
	})
	if out != "" || errOut != "" {
		t.Errorf("expected no output when disabled, got stdout=%q stderr=%q", out, errOut)
	}
}
