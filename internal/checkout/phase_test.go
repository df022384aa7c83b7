package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	for _, tt := range []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseLoading, PhaseReady, true},
		{PhaseLoading, PhaseFailed, true},
		{PhaseLoading, PhaseAwaitingAuthorization, false},
		{PhaseReady, PhaseAwaitingAuthorization, true},
		{PhaseAwaitingAuthorization, PhaseAuthorized, true},
		{PhaseAwaitingAuthorization, PhasePersisting, false},
		{PhaseAuthorized, PhasePersisting, true},
		{PhasePersisting, PhaseCompleted, true},
		{PhasePersisting, PhaseFailed, true},
		{PhaseFailed, PhaseReady, true},
		{PhaseFailed, PhasePersisting, true},
		{PhaseFailed, PhaseCompleted, false},
		{PhaseCompleted, PhaseReady, false},
		{PhaseCompleted, PhaseFailed, false},
	} {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionMessage(t *testing.T) {
	for _, tt := range []struct {
		name string
		s    Session
		want string
	}{
		{"Loading", Session{Phase: PhaseLoading}, MessageLoading},
		{"Persisting", Session{Phase: PhasePersisting}, MessageProcessing},
		{"Completed", Session{Phase: PhaseCompleted}, MessageCompleted},
		{"Unconfirmed", Session{Phase: PhaseAwaitingAuthorization, UnconfirmedIntent: "ORDER-1"}, MessageUnconfirmed},
		{"Authorization", Session{Phase: PhaseFailed, Failure: &Failure{Reason: ReasonAuthorization}}, MessageAuthFailed},
		{"Persistence", Session{Phase: PhaseFailed, Failure: &Failure{Reason: ReasonPersistence}}, MessageNotRecorded},
		{"Product", Session{Phase: PhaseFailed, Failure: &Failure{Reason: ReasonProduct}}, MessageProductMissing},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.Message())
		})
	}
}
