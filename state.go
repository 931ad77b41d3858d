package trino

import (
	"fmt"

	"github.com/sergeytiron/trino-go/utils"
)

// QueryState represents the life-cycle stage of a query as reported by the
// coordinator. States only move forward: once a query reaches a terminal
// state it never leaves it.
type QueryState int8

const (
	// StateQueued indicates the query is waiting for coordinator resources.
	StateQueued QueryState = iota
	// StatePlanning indicates the query is being analyzed and scheduled.
	StatePlanning
	// StateRunning indicates the query is actively being processed by workers.
	StateRunning
	// StateFinished indicates successful completion.
	StateFinished
	// StateFailed indicates an execution or planning error occurred.
	StateFailed
	// StateCanceled indicates execution was terminated by the user.
	StateCanceled
)

var queryStateMap = utils.NewBiMap(map[QueryState]string{
	StateQueued:   "QUEUED",
	StatePlanning: "PLANNING",
	StateRunning:  "RUNNING",
	StateFinished: "FINISHED",
	StateFailed:   "FAILED",
	StateCanceled: "CANCELED",
})

// queryStateAliases maps additional wire states emitted by newer coordinator
// versions onto the canonical life-cycle stages.
var queryStateAliases = map[string]QueryState{
	"WAITING_FOR_RESOURCES": StateQueued,
	"DISPATCHING":           StatePlanning,
	"STARTING":              StatePlanning,
	"FINISHING":             StateRunning,
	"CANCELLED":             StateCanceled,
}

// String returns the wire representation of the QueryState.
func (s QueryState) String() string {
	return queryStateMap.DirectLookup(s)
}

// IsTerminal reports whether no further polling occurs in this state.
func (s QueryState) IsTerminal() bool {
	return s == StateFinished || s == StateFailed || s == StateCanceled
}

// ParseQueryState parses a wire state string into a QueryState.
// Unknown strings default to StateQueued and return an error.
func ParseQueryState(str string) (QueryState, error) {
	if state, ok := queryStateMap.RLookup(str); ok {
		return state, nil
	}
	if state, ok := queryStateAliases[str]; ok {
		return state, nil
	}
	return StateQueued, fmt.Errorf("unknown query state %q", str)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s QueryState) MarshalText() (text []byte, err error) {
	if value, ok := queryStateMap.Lookup(s); ok {
		return []byte(value), nil
	}
	return nil, fmt.Errorf("unknown query state %d", int8(s))
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *QueryState) UnmarshalText(text []byte) error {
	var err error
	*s, err = ParseQueryState(string(text))
	return err
}
