package ledger

// SeedBalance sets an account balance directly when using the in-memory
// store. Test helper only; production balances change through Apply.
func SeedBalance(s Store, accountID string, amount int64) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if rec, exists := mem.accounts[accountID]; exists {
			rec.account.Balance = amount
		}
	}
}

// FailCredits installs a hook invoked before the credit side of Apply is
// staged on the in-memory store. Returning an error forces the rollback path.
func FailCredits(s Store, hook func(accountID string) error) {
	if mem, ok := s.(*memoryStore); ok {
		mem.creditHook = hook
	}
}

// HoldAccount grabs the exclusive update lock of an account on the in-memory
// store so tests can provoke lock-wait timeouts. The returned func releases it.
func HoldAccount(s Store, accountID string) func() {
	mem, ok := s.(*memoryStore)
	if !ok {
		return func() {}
	}
	mem.mu.RLock()
	rec, exists := mem.accounts[accountID]
	mem.mu.RUnlock()
	if !exists {
		return func() {}
	}
	rec.lock <- struct{}{}
	return func() { <-rec.lock }
}
