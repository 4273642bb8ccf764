package executor

// LegState 是单腿执行状态机。任何非终态都可以迁移到 Failed。
type LegState int

const (
	StateQuoted LegState = iota
	StateSubmitting
	StateSubmitted
	StateConfirming
	StateConfirmed
	StateFailed
)

func (s LegState) String() string {
	switch s {
	case StateQuoted:
		return "QUOTED"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateConfirming:
		return "CONFIRMING"
	case StateConfirmed:
		return "CONFIRMED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
