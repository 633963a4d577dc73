package billing

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Result is what every reconciliation handler returns. Whatever the outcome,
// a parsed delivery is acknowledged; the reason is logged and kept on the
// inbox row for replay.
type Result struct {
	Outcome Outcome
	Reason  error
}

func Applied() Result { return Result{Outcome: OutcomeApplied} }

func Ignored(reason error) Result { return Result{Outcome: OutcomeIgnored, Reason: reason} }

func Failed(reason error) Result { return Result{Outcome: OutcomeFailed, Reason: reason} }

func (r Result) OK() bool { return r.Outcome != OutcomeFailed }

func (r Result) String() string {
	if r.Reason == nil {
		return string(r.Outcome)
	}
	return string(r.Outcome) + ": " + r.Reason.Error()
}
