package checkout

// Phase is the orchestrator state of a checkout session.
type Phase string

const (
	PhaseLoading               Phase = "loading"
	PhaseReady                 Phase = "ready"
	PhaseAwaitingAuthorization Phase = "awaiting_authorization"
	PhaseAuthorized            Phase = "authorized"
	PhasePersisting            Phase = "persisting"
	PhaseCompleted             Phase = "completed"
	PhaseFailed                Phase = "failed"
)

// transitions lists the phases reachable from each phase. Failed is
// terminal except for the two manual retries: a full retry re-enters Ready,
// a persistence-only retry re-enters Persisting.
var transitions = map[Phase][]Phase{
	PhaseLoading:               {PhaseReady, PhaseFailed},
	PhaseReady:                 {PhaseAwaitingAuthorization, PhaseFailed},
	PhaseAwaitingAuthorization: {PhaseAuthorized, PhaseFailed},
	PhaseAuthorized:            {PhasePersisting, PhaseFailed},
	PhasePersisting:            {PhaseCompleted, PhaseFailed},
	PhaseFailed:                {PhaseReady, PhasePersisting},
	PhaseCompleted:             nil,
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Settled reports whether the phase waits on the buyer rather than on a
// network call.
func (p Phase) Settled() bool {
	switch p {
	case PhaseAwaitingAuthorization, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// FailureReason tells which party failed a session.
type FailureReason string

const (
	// ReasonProduct: the product could not be loaded.
	ReasonProduct FailureReason = "product"
	// ReasonAmount: the product price cannot be split.
	ReasonAmount FailureReason = "amount"
	// ReasonAuthorization: the provider failed or the buyer cancelled. No charge.
	ReasonAuthorization FailureReason = "authorization"
	// ReasonPersistence: the buyer was charged but the order is not recorded.
	ReasonPersistence FailureReason = "persistence"
)
