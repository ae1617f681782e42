package progress

import "encoding/json"

// PuzzleState is created lazily on first interaction and never destroyed
// during a session; the final summary reads it.
type PuzzleState struct {
	ID       string          `json:"id"`
	Solved   bool            `json:"solved"`
	Attempts int             `json:"attempts"`
	HintTier int             `json:"hintTier"`
	Payload  json.RawMessage `json:"payload,omitempty"` // puzzle-specific, opaque here
}

// Validator is the puzzle's own solving logic, out of scope for the core.
// It is untrusted content: errors and panics count as a wrong answer.
type Validator func(candidate any) (bool, error)

func safeValidate(v Validator, candidate any) (ok bool) {
	if v == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	result, err := v(candidate)
	if err != nil {
		return false
	}
	return result
}
