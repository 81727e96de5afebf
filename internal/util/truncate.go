// Package util holds small helpers shared by the log lines.
package util

import (
	"fmt"
	"unicode/utf8"
)

// DefaultLogMaxLen caps upstream bodies echoed into the log.
const DefaultLogMaxLen = 512

// TruncateLog cuts s to at most maxLen bytes without splitting a UTF-8
// sequence and notes the original size.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... [truncated, %d bytes total]", s[:cut], len(s))
}

// TruncateBytes truncates a response body to DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
