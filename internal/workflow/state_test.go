package workflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/decision"
	id "kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

func TestPersistHydrate(t *testing.T) {
	states := []State{
		KYCDocCollection{SessionID: id.NewVerificationSessionID()},
		KYCComplete{Status: decision.StatusFail, DecisionID: id.NewDecisionID()},
		KYBAwaitBoKyc{Pending: 3},
		DocumentDecisioning{SessionID: id.NewVerificationSessionID()},
	}
	for _, st := range states {
		t.Run(string(st.Kind())+"/"+string(st.Name()), func(t *testing.T) {
			ps, err := Persist(st)
			require.NoError(t, err)
			got, err := Hydrate(st.Kind(), ps)
			require.NoError(t, err)
			assert.Equal(t, st, got)
		})
	}
}

func TestHydrateRejectsBadState(t *testing.T) {
	t.Run("other kind", func(t *testing.T) {
		ps, err := Persist(KYBVendorCalls{})
		require.NoError(t, err)
		_, err = Hydrate(KindDocument, ps)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeStateKindMismatch))
	})

	t.Run("state not in kind", func(t *testing.T) {
		_, err := Hydrate(KindDocument, PersistedState{Kind: KindDocument, Name: StateAwaitBoKyc})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("corrupt data", func(t *testing.T) {
		_, err := Hydrate(KindKYB, PersistedState{Kind: KindKYB, Name: StateAwaitBoKyc, Data: json.RawMessage(`{"pending":"x"}`)})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestStatesCoverEveryKind(t *testing.T) {
	for _, kind := range Kinds() {
		initial, err := InitialState(kind)
		require.NoError(t, err)
		assert.Equal(t, StateDataCollection, initial.Name())

		names := map[StateName]bool{}
		for _, st := range States(kind) {
			assert.Equal(t, kind, st.Kind())
			names[st.Name()] = true
		}
		assert.True(t, names[StateComplete], kind)
		assert.True(t, names[StatePendingReview], kind)
	}
	_, err := InitialState("loan")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestDefaultActions(t *testing.T) {
	assert.Equal(t, MakeVendorCalls{}, KYCVendorCalls{}.DefaultAction())
	assert.Equal(t, MakeDecision{}, KYBDecisioning{}.DefaultAction())
	assert.Equal(t, DocCollected{}, DocumentCollection{}.DefaultAction())
	assert.Nil(t, KYCPendingReview{}.DefaultAction())
	assert.Nil(t, KYBAwaitBoKyc{}.DefaultAction())
}
