// Package utils holds small parsing helpers shared by config loading and the
// bridge handlers.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 int after trimming spaces, or returns def.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampAtoi parses s like AtoiDefault and pins the result into [lo, hi].
// List limits on the snapshot endpoints go through it.
func ClampAtoi(s string, def, lo, hi int) int {
	return min(max(AtoiDefault(s, def), lo), hi)
}
