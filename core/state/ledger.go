package state

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"clauseledger/native/clause"
)

// Fungible-token ledger. Non-native assets are registered symbols whose
// balances and allowances live in state; the transfer / approve /
// transfer-from surface below is the standard interface the asset
// abstraction in the clause modules is written against.

type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenPrefix     = []byte("token/meta/")
	tokenListKey    = []byte("token/list")
	tokenBalPrefix  = []byte("token/balance/")
	tokenAllowPfx   = []byte("token/allowance/")
	vaultSeedPrefix = []byte("vault/")
)

func tokenMetadataKey(symbol string) []byte {
	return append(append([]byte(nil), tokenPrefix...), symbol...)
}

func tokenBalanceKey(symbol string, addr [20]byte) []byte {
	buf := append(append([]byte(nil), tokenBalPrefix...), symbol...)
	buf = append(buf, ':')
	return append(buf, addr[:]...)
}

func tokenAllowanceKey(symbol string, owner, spender [20]byte) []byte {
	buf := append(append([]byte(nil), tokenAllowPfx...), symbol...)
	buf = append(buf, ':')
	buf = append(buf, owner[:]...)
	buf = append(buf, ':')
	return append(buf, spender[:]...)
}

// VaultAddress derives the deterministic custody address for a module's
// holdings of one asset. The derivation uses only the module namespace and
// asset symbol, never instance keys, so one vault serves unboundedly many
// instances.
func VaultAddress(module, asset string) [20]byte {
	seed := append(append([]byte(nil), vaultSeedPrefix...), module...)
	seed = append(seed, ':')
	seed = append(seed, asset...)
	hash := ethcrypto.Keccak256(seed)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetadataKey(symbol), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return meta, nil
}

// RegisterToken stores the metadata for a fungible token and records it in
// the token index.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized, err := clause.NormalizeAsset(symbol)
	if err != nil {
		return err
	}
	if clause.IsNative(normalized) {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	var list []string
	if _, err := m.KVGet(tokenListKey, &list); err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.KVPut(tokenListKey, list); err != nil {
		return err
	}
	return m.KVPut(tokenMetadataKey(normalized), &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals})
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized, err := clause.NormalizeAsset(symbol)
	if err != nil {
		return nil, err
	}
	return m.loadTokenMetadata(normalized)
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	var list []string
	if _, err := m.KVGet(tokenListKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized, err := clause.NormalizeAsset(symbol)
	if err != nil {
		return "", err
	}
	if clause.IsNative(normalized) {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	meta, err := m.loadTokenMetadata(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("token %s not registered", normalized)
	}
	return normalized, nil
}

func (m *Manager) tokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(tokenBalanceKey(symbol, addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) setTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.KVPut(tokenBalanceKey(symbol, addr), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	return m.tokenBalance(normalized, addr)
}

// Mint credits freshly issued token units to the supplied address.
func (m *Manager) Mint(addr [20]byte, symbol string, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	current, err := m.tokenBalance(normalized, addr)
	if err != nil {
		return err
	}
	return m.setTokenBalance(normalized, addr, new(big.Int).Add(current, amount))
}

// Transfer moves token units between two accounts.
func (m *Manager) Transfer(from, to [20]byte, symbol string, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	return m.moveToken(normalized, from, to, amount)
}

func (m *Manager) moveToken(normalized string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount")
	}
	fromBal, err := m.tokenBalance(normalized, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance", normalized)
	}
	toBal, err := m.tokenBalance(normalized, to)
	if err != nil {
		return err
	}
	if err := m.setTokenBalance(normalized, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.setTokenBalance(normalized, to, new(big.Int).Add(toBal, amount))
}

// Approve sets the allowance a spender may pull from the owner's balance.
func (m *Manager) Approve(owner, spender [20]byte, symbol string, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("negative allowance not allowed")
	}
	return m.KVPut(tokenAllowanceKey(normalized, owner, spender), amount)
}

// Allowance returns the remaining amount a spender may pull from the owner.
func (m *Manager) Allowance(owner, spender [20]byte, symbol string) (*big.Int, error) {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	ok, err := m.KVGet(tokenAllowanceKey(normalized, owner, spender), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// TransferFrom moves token units from owner to recipient on behalf of the
// spender, consuming allowance.
func (m *Manager) TransferFrom(spender, owner, to [20]byte, symbol string, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount")
	}
	allowance, err := m.Allowance(owner, spender, normalized)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s allowance", normalized)
	}
	if err := m.moveToken(normalized, owner, to, amount); err != nil {
		return err
	}
	return m.KVPut(tokenAllowanceKey(normalized, owner, spender), new(big.Int).Sub(allowance, amount))
}
