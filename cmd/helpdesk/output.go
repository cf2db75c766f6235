package main

import (
	"fmt"
	"os"
)

// Status output goes to stderr so command output stays pipeable.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func paint(code, text string) string {
	if noColor {
		return text
	}
	return code + text + ansiReset
}

func stderrLine(code, prefix, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(code, prefix+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { stderrLine(ansiGreen, "✓ ", format, args...) }

func printError(format string, args ...any) { stderrLine(ansiRed, "✗ ", format, args...) }

func printWarning(format string, args ...any) { stderrLine(ansiYellow, "⚠ ", format, args...) }

func printStep(format string, args ...any) { stderrLine(ansiCyan, "→ ", format, args...) }

func printStatus(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}
