package sweeper

import "fmt"

// State is a step of one attempt. It is only used for logging.
type State string

const (
	StateIdle         State = "idle"
	StateEvaluating   State = "evaluating"
	StateSubmitting   State = "submitting"
	StateAwaiting     State = "awaiting"
	StateIncluded     State = "included"
	StateNotIncluded  State = "not_included"
	StateNonceTooHigh State = "nonce_too_high"
)

// Outcome is how one head's evaluation ended.
type Outcome int

const (
	// OutcomeSkipped: trigger not met, nothing was submitted.
	OutcomeSkipped Outcome = iota
	// OutcomeTransient: lookup, signing, simulation or transport failure.
	OutcomeTransient
	// OutcomeTimeout: a phase ran past its deadline.
	OutcomeTimeout
	// OutcomePlanFailed: the bundle could not be laid out for these accounts.
	OutcomePlanFailed
	OutcomeRelayRejected
	OutcomeIncluded
	OutcomeNotIncluded
	OutcomeNonceTooHigh
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeTransient:
		return "transient"
	case OutcomeTimeout:
		return "timeout"
	case OutcomePlanFailed:
		return "plan_failed"
	case OutcomeRelayRejected:
		return "relay_rejected"
	case OutcomeIncluded:
		return "included"
	case OutcomeNotIncluded:
		return "not_included"
	case OutcomeNonceTooHigh:
		return "nonce_too_high"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Action is what the loop does after an outcome.
type Action int

const (
	ActionRetry Action = iota
	ActionStopSuccess
	ActionStopFailure
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionStopSuccess:
		return "stop_success"
	case ActionStopFailure:
		return "stop_failure"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Policy maps outcomes to actions. Outcomes missing from the map retry.
type Policy map[Outcome]Action

// DefaultPolicy stops on inclusion, on a stale nonce and on a bad plan.
// Relay rejections stop the run unless retryRelayRejections is set.
func DefaultPolicy(retryRelayRejections bool) Policy {
	p := Policy{
		OutcomeSkipped:       ActionRetry,
		OutcomeTransient:     ActionRetry,
		OutcomeTimeout:       ActionRetry,
		OutcomePlanFailed:    ActionStopFailure,
		OutcomeRelayRejected: ActionStopFailure,
		OutcomeIncluded:      ActionStopSuccess,
		OutcomeNotIncluded:   ActionRetry,
		OutcomeNonceTooHigh:  ActionStopFailure,
	}
	if retryRelayRejections {
		p[OutcomeRelayRejected] = ActionRetry
	}
	return p
}

func (p Policy) action(o Outcome) Action {
	if a, ok := p[o]; ok {
		return a
	}
	return ActionRetry
}
