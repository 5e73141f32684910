package db

import (
	"fmt"
	"time"
)

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

var allowedTransitions = map[ConnectionState]map[ConnectionState]bool{
	Disconnected: {Connecting: true, Error: true}, // error: no uri configured
	Connecting:   {Connected: true, Error: true, Disconnected: true},
	Connected:    {Disconnected: true},
	Error:        {Connecting: true, Disconnected: true},
}

func CanTransition(from, to ConnectionState) bool {
	m, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return m[to]
}

// RetryBudget is consumed by a single Connect call.
type RetryBudget struct {
	Remaining int
	Delay     time.Duration
}
