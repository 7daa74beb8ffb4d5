package storage

import "github.com/engramdev/engram/pkg/types"

const (
	abstractFallbackChars = 100
	overviewFallbackChars = 500
)

// ProjectDetailLevel returns a copy of m whose Content is replaced by the
// requested summary tier. When the tier has not been generated yet, a
// truncated slice of the full content stands in. DetailFull is a passthrough.
func ProjectDetailLevel(m *types.Memory, level types.DetailLevel) *types.Memory {
	if m == nil {
		return nil
	}

	out := *m
	switch level {
	case types.DetailAbstract:
		if m.Abstract != "" {
			out.Content = m.Abstract
		} else {
			out.Content = truncate(m.Content, abstractFallbackChars)
		}
	case types.DetailOverview:
		if m.Overview != "" {
			out.Content = m.Overview
		} else {
			out.Content = truncate(m.Content, overviewFallbackChars)
		}
	}
	return &out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
