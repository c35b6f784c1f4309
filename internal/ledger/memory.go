package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ligun0805/permit-kit/internal/permit"
)

// Memory is an in-process EIP-2612 ledger. It enforces the same rules a token
// contract does (nonce, deadline, signature, allowance, balance) and is used to
// rehearse a redemption before any gas is spent.
type Memory struct {
	mu        sync.Mutex
	chainID   *big.Int
	sender    common.Address
	now       func() time.Time
	tokens    map[common.Address]*memToken
	approvals map[common.Address]*memApproval
	txCount   uint64
	writes    int
}

type memToken struct {
	domain     permit.Domain
	decimals   uint8
	balances   map[common.Address]*big.Int
	nonces     map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

type memApproval struct {
	domain permit.Domain
	used   map[common.Hash]bool
}

func NewMemory(chainID *big.Int, sender common.Address) *Memory {
	return &Memory{
		chainID:   new(big.Int).Set(chainID),
		sender:    sender,
		now:       time.Now,
		tokens:    make(map[common.Address]*memToken),
		approvals: make(map[common.Address]*memApproval),
	}
}

// SetClock replaces the ledger's block-time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetSender changes the account submitting writes.
func (m *Memory) SetSender(a common.Address) {
	m.mu.Lock()
	m.sender = a
	m.mu.Unlock()
}

// AddToken registers a permit-capable token with its EIP-712 name/version.
func (m *Memory) AddToken(name, version string, token common.Address) error {
	d, err := permit.NewDomain(name, version, m.chainID, token.Hex())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &memToken{
		domain:     d,
		decimals:   18,
		balances:   make(map[common.Address]*big.Int),
		nonces:     make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	return nil
}

// AddApprovalContract registers a batch approval contract.
func (m *Memory) AddApprovalContract(name, version string, contract common.Address) error {
	d, err := permit.NewDomain(name, version, m.chainID, contract.Hex())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[contract] = &memApproval{domain: d, used: make(map[common.Hash]bool)}
	return nil
}

func (m *Memory) SetBalance(token, owner common.Address, v *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return fmt.Errorf("unknown token %s", token.Hex())
	}
	t.balances[owner] = new(big.Int).Set(v)
	return nil
}

func (m *Memory) SetDecimals(token common.Address, decimals uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return fmt.Errorf("unknown token %s", token.Hex())
	}
	t.decimals = decimals
	return nil
}

func (m *Memory) SetNonce(token, owner common.Address, v *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return fmt.Errorf("unknown token %s", token.Hex())
	}
	t.nonces[owner] = new(big.Int).Set(v)
	return nil
}

// Writes counts every write call, accepted or not.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) token(a common.Address) (*memToken, error) {
	t, ok := m.tokens[a]
	if !ok {
		return nil, fmt.Errorf("no contract at %s", a.Hex())
	}
	return t, nil
}

func get(mp map[common.Address]*big.Int, a common.Address) *big.Int {
	if v, ok := mp[a]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (m *Memory) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

func (m *Memory) Nonces(_ context.Context, token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(token)
	if err != nil {
		return nil, err
	}
	return get(t.nonces, owner), nil
}

func (m *Memory) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(token)
	if err != nil {
		return nil, err
	}
	return get(t.balances, owner), nil
}

func (m *Memory) Allowance(_ context.Context, token, owner, spender common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(token)
	if err != nil {
		return nil, err
	}
	return get(t.allowances[owner], spender), nil
}

// NativeBalance is not tracked; the memory ledger holds tokens only.
func (m *Memory) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (m *Memory) TokenName(_ context.Context, token common.Address) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(token)
	if err != nil {
		return "", err
	}
	return t.domain.Name, nil
}

func (m *Memory) Decimals(_ context.Context, token common.Address) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.token(token)
	if err != nil {
		return 0, err
	}
	return t.decimals, nil
}

func (m *Memory) DomainSeparator(_ context.Context, token common.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var d permit.Domain
	if t, ok := m.tokens[token]; ok {
		d = t.domain
	} else if a, ok := m.approvals[token]; ok {
		d = a.domain
	} else {
		return nil, fmt.Errorf("no contract at %s", token.Hex())
	}
	sep, err := d.Separator()
	if err != nil {
		return nil, err
	}
	return sep.Bytes(), nil
}

func (m *Memory) Sender() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sender
}

func (m *Memory) blockTime() uint64 {
	n := m.now().Unix()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func (m *Memory) receipt() *Receipt {
	m.txCount++
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(m.txCount >> (8 * (7 - i)))
	}
	return &Receipt{TxHash: crypto.Keccak256Hash([]byte("memory-ledger"), b[:]), BlockNumber: m.txCount}
}

func revert(method, reason string) error {
	return &RevertError{Method: method, Reason: reason}
}

// Permit registers an allowance if the signature is valid for the current nonce.
func (m *Memory) Permit(_ context.Context, token common.Address, p PermitCall) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	t, err := m.token(token)
	if err != nil {
		return nil, revert("permit", err.Error())
	}
	if p.Deadline == nil || !p.Deadline.IsUint64() || p.Deadline.Uint64() <= m.blockTime() {
		return nil, revert("permit", "ERC20Permit: expired deadline")
	}
	nonce := get(t.nonces, p.Owner)
	msg := &permit.TransferAuthorization{
		Owner:    p.Owner,
		Spender:  p.Spender,
		Value:    p.Value,
		Nonce:    nonce,
		Deadline: p.Deadline.Uint64(),
	}
	sig := permit.Signature{V: p.V, R: p.R, S: p.S}
	signer, err := permit.Recover(t.domain, msg, sig.Join())
	if err != nil || signer != p.Owner {
		return nil, revert("permit", "ERC20Permit: invalid signature")
	}
	t.nonces[p.Owner] = nonce.Add(nonce, big.NewInt(1))
	if t.allowances[p.Owner] == nil {
		t.allowances[p.Owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[p.Owner][p.Spender] = new(big.Int).Set(p.Value)
	return m.receipt(), nil
}

// TransferFrom moves value from -> to using the sender's allowance.
func (m *Memory) TransferFrom(_ context.Context, token, from, to common.Address, value *big.Int) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	t, err := m.token(token)
	if err != nil {
		return nil, revert("transferFrom", err.Error())
	}
	allowed := get(t.allowances[from], m.sender)
	if allowed.Cmp(value) < 0 {
		return nil, revert("transferFrom", "ERC20: insufficient allowance")
	}
	bal := get(t.balances, from)
	if bal.Cmp(value) < 0 {
		return nil, revert("transferFrom", "ERC20: transfer amount exceeds balance")
	}
	if !isMax(allowed) {
		if t.allowances[from] == nil {
			t.allowances[from] = make(map[common.Address]*big.Int)
		}
		t.allowances[from][m.sender] = allowed.Sub(allowed, value)
	}
	t.balances[from] = bal.Sub(bal, value)
	t.balances[to] = get(t.balances, to).Add(get(t.balances, to), value)
	return m.receipt(), nil
}

// ExecuteApproval verifies every entry first and then applies all of them,
// so a batch either takes effect completely or not at all.
func (m *Memory) ExecuteApproval(_ context.Context, contract, owner common.Address, perms []permit.Permission, sig []byte) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	ac, ok := m.approvals[contract]
	if !ok {
		return nil, revert("executeApproval", "no approval contract at "+contract.Hex())
	}
	if len(perms) == 0 {
		return nil, revert("executeApproval", "empty batch")
	}
	batch := &permit.PermissionBatch{Owner: owner, Permissions: perms}
	digest, err := permit.Digest(ac.domain, batch)
	if err != nil {
		return nil, revert("executeApproval", err.Error())
	}
	if ac.used[digest] {
		return nil, revert("executeApproval", "approval already executed")
	}
	signer, err := permit.Recover(ac.domain, batch, sig)
	if err != nil || signer != owner {
		return nil, revert("executeApproval", "invalid signature")
	}
	now := m.blockTime()
	for i, p := range perms {
		if p.Deadline <= now {
			return nil, revert("executeApproval", fmt.Sprintf("permission %d expired", i))
		}
		if _, ok := m.tokens[p.Token]; !ok {
			return nil, revert("executeApproval", fmt.Sprintf("permission %d: unknown token %s", i, p.Token.Hex()))
		}
		if p.Unlimited != isMax(p.Amount) {
			return nil, revert("executeApproval", fmt.Sprintf("permission %d: unlimited flag does not match amount", i))
		}
	}
	for _, p := range perms {
		t := m.tokens[p.Token]
		if t.allowances[owner] == nil {
			t.allowances[owner] = make(map[common.Address]*big.Int)
		}
		t.allowances[owner][p.Spender] = new(big.Int).Set(p.Amount)
	}
	ac.used[digest] = true
	return m.receipt(), nil
}

func isMax(v *big.Int) bool {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return false
	}
	return u.Eq(new(uint256.Int).SetAllOne())
}
