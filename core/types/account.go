package types

import "math/big"

// Account holds the native-asset balance and replay nonce for a 20-byte
// ledger address. Fungible-token balances live in the token ledger, not on
// the account record.
type Account struct {
	Nonce   uint64
	Balance *big.Int
}

// Clone returns a deep copy so callers can mutate the result freely.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
