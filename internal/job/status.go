// Package job persists translation jobs and drives them through the
// processing pipeline.
package job

// Status is the lifecycle state of a job. Transitions are monotonic: a
// job never moves back to an earlier stage.
type Status string

const (
	StatusCreated        Status = "created"
	StatusValidating     Status = "validating"
	StatusExtracting     Status = "extracting"
	StatusTranslating    Status = "translating"
	StatusReconstructing Status = "reconstructing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusExpired        Status = "expired"
)

var validTransitions = map[Status][]Status{
	StatusCreated:        {StatusValidating, StatusFailed},
	StatusValidating:     {StatusExtracting, StatusFailed},
	StatusExtracting:     {StatusTranslating, StatusFailed},
	StatusTranslating:    {StatusReconstructing, StatusFailed},
	StatusReconstructing: {StatusCompleted, StatusFailed},
	StatusCompleted:      {StatusExpired},
	StatusFailed:         {},
	StatusExpired:        {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Active reports whether a job in this state should be re-queued after a
// restart.
func (s Status) Active() bool {
	return !s.Terminal()
}
