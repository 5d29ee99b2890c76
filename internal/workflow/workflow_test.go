package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewflow/internal/domain"
)

func TestForPicksMachineByModuleType(t *testing.T) {
	assert.Equal(t, "expert_review", For(domain.ModuleExpertLegalReview).Name())
	for _, mt := range domain.ModuleTypes() {
		if mt == domain.ModuleExpertLegalReview {
			continue
		}
		assert.Equal(t, "approval", For(mt).Name(), mt)
	}
}

func TestApprovalTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		trigger  Trigger
	}{
		{domain.StatusPending, domain.StatusAssigned, TriggerAssigned},
		{domain.StatusAssigned, domain.StatusInProgress, TriggerStarted},
		{domain.StatusAssigned, domain.StatusCompleted, TriggerComplete},
		{domain.StatusInProgress, domain.StatusCompleted, TriggerComplete},
		{domain.StatusAssigned, domain.StatusRejected, TriggerRejected},
		{domain.StatusInProgress, domain.StatusRejected, TriggerRejected},
	}
	for _, tc := range cases {
		trig, err := Approval.Transition("it-1", tc.from, tc.to)
		require.NoError(t, err, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.trigger, trig)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, m := range []Machine{Approval, Expert} {
		for _, from := range m.Statuses() {
			if !from.Terminal() {
				continue
			}
			for _, to := range m.Statuses() {
				assert.False(t, m.Allowed(from, to), "%s: %s -> %s", m.Name(), from, to)
			}
		}
	}
}

func TestRejectedTransitionCarriesStatuses(t *testing.T) {
	_, err := Approval.Transition("it-1", domain.StatusPending, domain.StatusCompleted)
	var invalid domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "it-1", invalid.ItemID)
	assert.Equal(t, domain.StatusPending, invalid.From)
	assert.Equal(t, domain.StatusCompleted, invalid.To)
}

func TestReviewerCannotEnterAssigned(t *testing.T) {
	assert.True(t, Approval.Allowed(domain.StatusPending, domain.StatusAssigned))
	_, err := Approval.ReviewerTransition("it-1", domain.StatusPending, domain.StatusAssigned)
	require.ErrorAs(t, err, &domain.InvalidTransitionError{})

	trig, err := Approval.ReviewerTransition("it-1", domain.StatusAssigned, domain.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, TriggerStarted, trig)
}

func TestExpertMachine(t *testing.T) {
	assert.Equal(t, domain.StatusInProgress, Expert.AssignedStatus())
	assert.Equal(t, domain.StatusAssigned, Approval.AssignedStatus())

	trig, err := Expert.ReviewerTransition("ex-1", domain.StatusPending, domain.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, TriggerStarted, trig)

	assert.True(t, Expert.Allowed(domain.StatusInProgress, domain.StatusCompleted))
	assert.False(t, Expert.Allowed(domain.StatusPending, domain.StatusCompleted))
	assert.False(t, Expert.Allowed(domain.StatusPending, domain.StatusAssigned))
	assert.False(t, Expert.Allowed(domain.StatusInProgress, domain.StatusRejected))
}

func TestAllowedMatchesTransitionTable(t *testing.T) {
	type pair struct{ from, to domain.Status }
	tables := map[string]struct {
		m     Machine
		edges map[pair]bool
	}{
		"approval": {Approval, map[pair]bool{
			{domain.StatusPending, domain.StatusAssigned}:     true,
			{domain.StatusAssigned, domain.StatusInProgress}:  true,
			{domain.StatusAssigned, domain.StatusCompleted}:   true,
			{domain.StatusInProgress, domain.StatusCompleted}: true,
			{domain.StatusAssigned, domain.StatusRejected}:    true,
			{domain.StatusInProgress, domain.StatusRejected}:  true,
		}},
		"expert": {Expert, map[pair]bool{
			{domain.StatusPending, domain.StatusInProgress}:   true,
			{domain.StatusInProgress, domain.StatusCompleted}: true,
		}},
	}
	all := Approval.Statuses()
	for name, tc := range tables {
		t.Run(name, func(t *testing.T) {
			checked := 0
			for _, from := range all {
				for _, to := range all {
					want := tc.edges[pair{from, to}]
					assert.Equal(t, want, tc.m.Allowed(from, to), "%s -> %s", from, to)
					_, err := tc.m.Transition("it-1", from, to)
					assert.Equal(t, want, err == nil, "%s -> %s", from, to)
					checked++
				}
			}
			assert.Equal(t, 25, checked)
		})
	}
}
