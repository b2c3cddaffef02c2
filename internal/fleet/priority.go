package fleet

import (
	"fmt"
	"strconv"
	"strings"
)

// Priority orders clients for dispatch. Lower values are served first.
type Priority int

const (
	PriorityUrgent Priority = 1
	PriorityHigh   Priority = 2
	PriorityNormal Priority = 3
	PriorityLow    Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority accepts a level name or its numeric value. Empty input means
// PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriorityNormal, nil
	}
	switch strings.ToUpper(s) {
	case "URGENT", "URGENTE":
		return PriorityUrgent, nil
	case "HIGH", "ALTA":
		return PriorityHigh, nil
	case "NORMAL":
		return PriorityNormal, nil
	case "LOW", "BAIXA":
		return PriorityLow, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(PriorityUrgent) || n > int(PriorityLow) {
		return 0, fmt.Errorf("invalid priority: %q", s)
	}
	return Priority(n), nil
}
