package authflow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ligun0805/permit-kit/internal/ledger"
	"github.com/ligun0805/permit-kit/internal/permit"
)

const defaultTxTimeout = 3 * time.Minute

// Result is the caller-facing outcome of a redemption. State with the error Kind tells
// "rejected on chain", "expired", "never sent" and "might still land" apart.
type Result struct {
	State      permit.State
	TxID       string
	PermitTxID string
	Warning    string
	PendingID  string
}

// Executor submits signed authorizations to the ledger.
type Executor struct {
	chainID   *big.Int
	writer    ledger.Writer
	pending   *PendingStore
	log       *zap.Logger
	now       func() time.Time
	txTimeout time.Duration

	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

type lockKey struct {
	owner common.Address
	token common.Address
}

type ExecutorOption func(*Executor)

// WithTxTimeout bounds each on-chain write; a timeout ends Inconclusive.
func WithTxTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.txTimeout = d
		}
	}
}

func WithClock(now func() time.Time) ExecutorOption { return func(e *Executor) { e.now = now } }

func WithPendingStore(s *PendingStore) ExecutorOption { return func(e *Executor) { e.pending = s } }

func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func NewExecutor(chainID *big.Int, w ledger.Writer, opts ...ExecutorOption) *Executor {
	e := &Executor{
		chainID:   new(big.Int).Set(chainID),
		writer:    w,
		pending:   NewPendingStore(),
		log:       zap.NewNop(),
		now:       time.Now,
		txTimeout: defaultTxTimeout,
		locks:     make(map[lockKey]*sync.Mutex),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) Pending() *PendingStore { return e.pending }

// lock serialises redemptions per (owner, token) so two permits never race on one nonce.
func (e *Executor) lock(owner, token common.Address) func() {
	e.mu.Lock()
	k := lockKey{owner, token}
	m, ok := e.locks[k]
	if !ok {
		m = &sync.Mutex{}
		e.locks[k] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func expired(phase string) error {
	return &permit.Error{Kind: permit.KindExpired, Phase: phase, Reason: "deadline has passed"}
}

// writeError maps a ledger failure. Reverts become kind. A write that never left
// the process is a Network failure and the authorization stays at prior. Anything
// else may have been broadcast and is Inconclusive.
func writeError(err error, kind permit.Kind, phase string, prior permit.State) (permit.State, error) {
	var rev *ledger.RevertError
	if errors.As(err, &rev) {
		pe := &permit.Error{Kind: kind, Phase: phase, Reason: rev.Reason, Err: err}
		if rev.Submitted() {
			pe.TxHash = rev.TxHash.Hex()
		}
		return permit.StateRejected, pe
	}
	var sub *ledger.SubmitError
	if errors.As(err, &sub) {
		return prior, &permit.Error{Kind: permit.KindNetwork, Phase: phase, Reason: "not submitted; nothing was broadcast", Err: err}
	}
	pe := &permit.Error{Kind: permit.KindInconclusive, Phase: phase, Reason: "no receipt; the transaction may still be included", Err: err}
	var pend *ledger.PendingError
	if errors.As(err, &pend) {
		pe.TxHash = pend.TxHash.Hex()
	}
	return permit.StateInconclusive, pe
}

// RedeemSingle registers the permit and then pulls exactly the signed value to the spender.
// The transfer is only attempted after the permit succeeded.
func (e *Executor) RedeemSingle(ctx context.Context, signed *permit.SignedAuthorization) (*Result, error) {
	if signed == nil || signed.Transfer() == nil {
		return nil, permit.Invalidf("redeem", "not a Permit authorization")
	}
	t := signed.Transfer()
	if signed.Expired(e.now()) {
		return &Result{State: permit.StateExpired}, expired("redeem")
	}
	if err := signed.Domain.Check(e.chainID); err != nil {
		return nil, err
	}
	if t.Spender != e.writer.Sender() {
		return nil, permit.Invalidf("redeem", "spender %s is not the submitting account %s", t.Spender.Hex(), e.writer.Sender().Hex())
	}
	sig, err := signed.Split()
	if err != nil {
		return nil, err
	}
	token := signed.Domain.VerifyingContract
	log := e.log.With(
		zap.String("token", token.Hex()),
		zap.String("owner", t.Owner.Hex()),
		zap.String("nonce", t.Nonce.String()),
	)

	unlock := e.lock(t.Owner, token)
	defer unlock()

	pctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	rcpt, err := e.writer.Permit(pctx, token, ledger.NewPermitCall(t, sig))
	cancel()
	if err != nil {
		state, perr := writeError(err, permit.KindPermissionRejected, "permit", permit.StateSigned)
		log.Warn("permit failed", zap.Stringer("state", state), zap.Error(err))
		return &Result{State: state}, perr
	}
	res := &Result{State: permit.StatePermissionRegistered, PermitTxID: rcpt.TxHash.Hex()}
	log.Info("permission registered", zap.String("tx", res.PermitTxID))

	tctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	rcpt, err = e.writer.TransferFrom(tctx, token, t.Owner, t.Spender, t.Value)
	cancel()
	if err != nil {
		state, perr := writeError(err, permit.KindTransferRejected, "transfer", permit.StatePermissionRegistered)
		res.PendingID = e.pending.Add(Pending{
			Token:      token,
			Owner:      t.Owner,
			Spender:    t.Spender,
			Value:      t.Value,
			Deadline:   t.Deadline,
			PermitTxID: res.PermitTxID,
			LastError:  err.Error(),
			CreatedAt:  e.now(),
		})
		if state == permit.StateInconclusive {
			res.State = state
		}
		res.Warning = "permission is registered but the transfer did not complete; retry " + res.PendingID + " before the deadline or the allowance stays outstanding"
		log.Warn("transfer failed after permit", zap.String("pending_id", res.PendingID), zap.Error(err))
		return res, perr
	}
	res.State = permit.StateTransferred
	res.TxID = rcpt.TxHash.Hex()
	log.Info("transfer complete", zap.String("tx", res.TxID), zap.String("value", t.Value.String()))
	return res, nil
}

// RetryTransfer re-runs the transfer phase of a pending redemption.
func (e *Executor) RetryTransfer(ctx context.Context, id string) (*Result, error) {
	p, ok := e.pending.Get(id)
	if !ok {
		return nil, permit.Invalidf("transfer", "no pending redemption %q", id)
	}
	res := &Result{PermitTxID: p.PermitTxID, PendingID: id}
	if permit.IsExpired(p.Deadline, e.now()) {
		e.pending.Remove(id)
		res.State = permit.StateExpired
		res.Warning = "retry window closed; the registered allowance may still be outstanding"
		return res, expired("transfer")
	}

	unlock := e.lock(p.Owner, p.Token)
	defer unlock()

	tctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	rcpt, err := e.writer.TransferFrom(tctx, p.Token, p.Owner, p.Spender, p.Value)
	cancel()
	if err != nil {
		e.pending.failed(id, err)
		state, perr := writeError(err, permit.KindTransferRejected, "transfer", permit.StatePermissionRegistered)
		res.State = permit.StatePermissionRegistered
		if state == permit.StateInconclusive {
			res.State = state
		}
		return res, perr
	}
	e.pending.Remove(id)
	res.State = permit.StateTransferred
	res.TxID = rcpt.TxHash.Hex()
	res.PendingID = ""
	e.log.Info("pending transfer complete", zap.String("id", id), zap.String("tx", res.TxID))
	return res, nil
}

// RedeemBatch submits a signed Approval in one executeApproval call. Any failure
// leaves no permission registered.
func (e *Executor) RedeemBatch(ctx context.Context, signed *permit.SignedAuthorization) (*Result, error) {
	if signed == nil || signed.Batch() == nil {
		return nil, permit.Invalidf("approval", "not an Approval authorization")
	}
	b := signed.Batch()
	if signed.Expired(e.now()) {
		return &Result{State: permit.StateExpired}, expired("approval")
	}
	if err := signed.Domain.Check(e.chainID); err != nil {
		return nil, err
	}
	contract := signed.Domain.VerifyingContract
	if b.HasUnlimited() {
		e.log.Warn("batch grants unlimited allowance", zap.String("owner", b.Owner.Hex()), zap.String("contract", contract.Hex()))
	}

	actx, cancel := context.WithTimeout(ctx, e.txTimeout)
	rcpt, err := e.writer.ExecuteApproval(actx, contract, b.Owner, b.Permissions, signed.Signature)
	cancel()
	if err != nil {
		state, perr := writeError(err, permit.KindBatchRejected, "approval", permit.StateSigned)
		e.log.Warn("batch approval failed", zap.String("owner", b.Owner.Hex()), zap.Stringer("state", state), zap.Error(err))
		return &Result{State: state}, perr
	}
	e.log.Info("batch approval registered",
		zap.String("owner", b.Owner.Hex()),
		zap.Int("permissions", len(b.Permissions)),
		zap.String("tx", rcpt.TxHash.Hex()),
	)
	return &Result{State: permit.StatePermissionRegistered, TxID: rcpt.TxHash.Hex()}, nil
}
