// Package oracle is the port to the decision oracle: a language model that,
// given conversation context and four booking tools, answers with free text
// or exactly one tool call.
package oracle

import "context"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type Turn struct {
	Role Role
	Text string
}

type Request struct {
	System  string
	History []Turn
	Message string
}

// ToolCall is the oracle's raw tool selection. Use ParseToolCall to turn it
// into a typed Intent.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Decision holds either Call or Text.
type Decision struct {
	Text string
	Call *ToolCall
}

type Oracle interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}
