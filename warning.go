package trino

import "fmt"

// Warning is a non-fatal diagnostic the server attaches to a response.
// Warnings accumulate across the poll chain and never fail the query.
type Warning struct {
	WarningCode WarningCode `json:"warningCode"`
	Message     string      `json:"message"`
}

// WarningCode identifies the class of a warning.
type WarningCode struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.WarningCode.Name, w.Message)
}
