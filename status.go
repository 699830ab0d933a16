package accounts

// StatusFacts are the booleans the gateway's final status decision runs on.
type StatusFacts struct {
	Active      bool
	Claimed     bool
	Registered  bool
	HasPassword bool
	Merged      bool
	Disabled    bool
}

// FactsFor derives the decision inputs from an account row. Claimed means
// the account holder completed confirmation at some point; a self-registered
// account that set a password but never confirmed is unclaimed.
func FactsFor(a *Account) StatusFacts {
	return StatusFacts{
		Active:      a.IsActive(),
		Claimed:     a.IsConfirmed(),
		Registered:  a.IsRegistered,
		HasPassword: a.PasswordHash != "",
		Merged:      a.IsMerged(),
		Disabled:    a.IsDisabled(),
	}
}

// StatusDecision is the gateway's final gate, always evaluated after the
// credential proof, never short-circuited. A nil result passes.
func StatusDecision(f StatusFacts) error {
	if f.Active {
		return nil
	}

	switch {
	case !f.Claimed && !f.Registered && !f.HasPassword:
		return ErrUserNotClaimed
	case !f.Claimed && !f.Registered && f.HasPassword:
		return ErrUserNotConfirmed
	case f.Claimed && f.Registered && f.Merged:
		return ErrUserMerged
	case f.Claimed && !f.Merged && f.Disabled:
		return ErrUserDisabled
	}

	return ErrUserNotActive
}

// StatusGate evaluates the decision table against an account.
func StatusGate(a *Account) error {
	return StatusDecision(FactsFor(a))
}
