package models

import "time"

// User owns sessions and carries the trial-usage counters.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	MessagesSent int       `json:"messages_sent"`
	TrialLimit   int       `json:"trial_limit"`
	IsUnlimited  bool      `json:"is_unlimited"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TrialStatus is the trial allowance derived from the stored counters.
type TrialStatus struct {
	MessagesSent      int  `json:"messagesSent"`
	TrialLimit        int  `json:"trialLimit"`
	RemainingMessages int  `json:"remainingMessages"`
	IsUnlimited       bool `json:"isUnlimited"`
	HasReachedLimit   bool `json:"hasReachedLimit"`
}

// TrialStatus computes the allowance from the three stored counters.
// Unlimited users report -1 remaining and never reach the limit.
func (u *User) TrialStatus() TrialStatus {
	remaining := -1
	if !u.IsUnlimited {
		remaining = u.TrialLimit - u.MessagesSent
		if remaining < 0 {
			remaining = 0
		}
	}
	return TrialStatus{
		MessagesSent:      u.MessagesSent,
		TrialLimit:        u.TrialLimit,
		RemainingMessages: remaining,
		IsUnlimited:       u.IsUnlimited,
		HasReachedLimit:   !u.IsUnlimited && u.MessagesSent >= u.TrialLimit,
	}
}
