package models

import "testing"

func TestTrialStatusArithmetic(t *testing.T) {
	cases := []struct {
		name          string
		user          User
		wantRemaining int
		wantReached   bool
	}{
		{
			name:          "fresh trial",
			user:          User{TrialLimit: 5},
			wantRemaining: 5,
		},
		{
			name:          "partially used",
			user:          User{TrialLimit: 5, MessagesSent: 3},
			wantRemaining: 2,
		},
		{
			name:          "exactly exhausted",
			user:          User{TrialLimit: 5, MessagesSent: 5},
			wantRemaining: 0,
			wantReached:   true,
		},
		{
			name:          "over limit clamps to zero",
			user:          User{TrialLimit: 5, MessagesSent: 9},
			wantRemaining: 0,
			wantReached:   true,
		},
		{
			name:          "unlimited ignores counters",
			user:          User{TrialLimit: 5, MessagesSent: 100, IsUnlimited: true},
			wantRemaining: -1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := tc.user.TrialStatus()
			if st.RemainingMessages != tc.wantRemaining {
				t.Fatalf("remaining = %d, want %d", st.RemainingMessages, tc.wantRemaining)
			}
			if st.HasReachedLimit != tc.wantReached {
				t.Fatalf("hasReachedLimit = %v, want %v", st.HasReachedLimit, tc.wantReached)
			}
			if st.MessagesSent != tc.user.MessagesSent || st.TrialLimit != tc.user.TrialLimit {
				t.Fatalf("counters not carried through: %+v", st)
			}
		})
	}
}

func TestSessionCategoryValid(t *testing.T) {
	for _, c := range []SessionCategory{
		CategorySprintPlanning, CategoryUserStories, CategoryRetrospective,
		CategoryDailyStandup, CategoryGeneral,
	} {
		if !c.Valid() {
			t.Fatalf("expected %s to be valid", c)
		}
	}
	if SessionCategory("PLANNING_POKER").Valid() {
		t.Fatalf("unknown category reported valid")
	}
}
