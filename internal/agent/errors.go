package agent

import "fmt"

// ErrMaxRounds is returned when a turn keeps requesting tools past the
// loop's round limit. The turn is aborted; nothing is committed to the
// session history.
type ErrMaxRounds struct {
	Rounds int
}

func (e *ErrMaxRounds) Error() string {
	return fmt.Sprintf("tool loop exceeded %d rounds without a final answer", e.Rounds)
}
