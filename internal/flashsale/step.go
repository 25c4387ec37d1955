package flashsale

type Step string

const (
	StepAdmitted     Step = "ADMITTED"
	StepReserving    Step = "RESERVING"
	StepReserved     Step = "RESERVED"
	StepPaying       Step = "PAYING"
	StepPaid         Step = "PAID"
	StepConfirming   Step = "CONFIRMING"
	StepConfirmed    Step = "CONFIRMED"
	StepFailed       Step = "FAILED"
	StepCompensating Step = "COMPENSATING"
	StepCompensated  Step = "COMPENSATED"
)

var validNext = map[Step]map[Step]bool{
	StepAdmitted:     {StepReserving: true, StepFailed: true},
	StepReserving:    {StepReserved: true, StepFailed: true},
	StepReserved:     {StepPaying: true, StepFailed: true, StepCompensating: true},
	StepPaying:       {StepPaid: true, StepCompensating: true},
	StepPaid:         {StepConfirming: true},
	StepConfirming:   {StepConfirmed: true, StepCompensating: true},
	StepCompensating: {StepCompensated: true},
	StepConfirmed:    {},
	StepFailed:       {},
	StepCompensated:  {},
}

func CanTransition(from, to Step) bool {
	return validNext[from][to]
}

// Terminal reports whether an attempt in this step is finished; terminal
// attempts are archived and never mutated again.
func (s Step) Terminal() bool {
	return s == StepConfirmed || s == StepFailed || s == StepCompensated
}
