package authflow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ligun0805/permit-kit/internal/ledger"
	"github.com/ligun0805/permit-kit/internal/permit"
	"github.com/ligun0805/permit-kit/internal/signer"
)

// Config holds the service knobs; zero values fall back to defaults.
type Config struct {
	ChainID *big.Int
	// TokenName/TokenVersion override the EIP-712 domain of the token. An empty
	// name is read from the token's name(); an empty version means "1".
	TokenName    string
	TokenVersion string
	// ApprovalName/ApprovalVersion describe the batch approval contract domain.
	ApprovalName    string
	ApprovalVersion string

	SignTimeout    time.Duration
	TxTimeout      time.Duration
	AllowUnlimited bool
	// NonceFallbackZero signs with nonce 0 when the nonce read fails. The ledger
	// rejects a wrong nonce, so this can only cost a failed permit.
	NonceFallbackZero bool
}

// Service ties the builder, signer and executor together.
type Service struct {
	cfg      Config
	reader   ledger.Reader
	signer   signer.Signer
	builder  *permit.Builder
	resolver *Resolver
	balances *Balances
	executor *Executor
	log      *zap.Logger
	now      func() time.Time
}

type ServiceOption func(*Service)

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithNow replaces the wall clock used for deadlines and expiry checks.
func WithNow(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// NewService wires a service over l. The signer may be nil for redeem-only use.
// The configured chain id must be the one the ledger reports.
func NewService(ctx context.Context, cfg Config, l ledger.Ledger, sg signer.Signer, opts ...ServiceOption) (*Service, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	network, err := l.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read network chain id: %w", err)
	}
	if network.Cmp(cfg.ChainID) != 0 {
		return nil, permit.Invalidf("domain", "configured chain id %s does not match connected network %s", cfg.ChainID, network)
	}
	if cfg.TokenVersion == "" {
		cfg.TokenVersion = "1"
	}
	if cfg.ApprovalVersion == "" {
		cfg.ApprovalVersion = "1"
	}
	s := &Service{cfg: cfg, reader: l, signer: sg, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.builder = &permit.Builder{Now: s.now, AllowUnlimited: cfg.AllowUnlimited}
	s.resolver = NewResolver(l, s.log)
	s.resolver.now = s.now
	s.balances = NewBalances(l, s.log)
	s.executor = NewExecutor(cfg.ChainID, l,
		WithTxTimeout(cfg.TxTimeout),
		WithClock(s.now),
		WithExecutorLogger(s.log),
	)
	return s, nil
}

func (s *Service) Balances() *Balances { return s.balances }

func (s *Service) Executor() *Executor { return s.executor }

func (s *Service) Owner() (common.Address, error) {
	if s.signer == nil {
		return common.Address{}, &permit.Error{Kind: permit.KindSignerError, Phase: "sign", Reason: "no signer configured"}
	}
	return s.signer.Address(), nil
}

// TokenDomain resolves the EIP-712 domain of token and cross-checks it against the
// token's DOMAIN_SEPARATOR() when the token exposes one.
func (s *Service) TokenDomain(ctx context.Context, token common.Address) (permit.Domain, error) {
	name := s.cfg.TokenName
	if strings.TrimSpace(name) == "" {
		n, err := s.reader.TokenName(ctx, token)
		if err != nil {
			return permit.Domain{}, permit.Invalidf("domain", "cannot resolve name of %s (set TOKEN_NAME): %v", token.Hex(), err)
		}
		name = n
	}
	return s.domain(ctx, name, s.cfg.TokenVersion, token)
}

func (s *Service) approvalDomain(ctx context.Context, contract common.Address) (permit.Domain, error) {
	name := s.cfg.ApprovalName
	if strings.TrimSpace(name) == "" {
		n, err := s.reader.TokenName(ctx, contract)
		if err != nil {
			return permit.Domain{}, permit.Invalidf("domain", "cannot resolve name of approval contract %s: %v", contract.Hex(), err)
		}
		name = n
	}
	return s.domain(ctx, name, s.cfg.ApprovalVersion, contract)
}

func (s *Service) domain(ctx context.Context, name, version string, at common.Address) (permit.Domain, error) {
	d, err := permit.NewDomain(name, version, s.cfg.ChainID, at.Hex())
	if err != nil {
		return permit.Domain{}, err
	}
	onchain, err := s.reader.DomainSeparator(ctx, at)
	if err != nil {
		s.log.Warn("DOMAIN_SEPARATOR unavailable, skipping cross-check", zap.String("contract", at.Hex()), zap.Error(err))
		return d, nil
	}
	ok, err := d.MatchesSeparator(onchain)
	if err != nil {
		return permit.Domain{}, err
	}
	if !ok {
		return permit.Domain{}, permit.Invalidf("domain",
			"domain (name=%q version=%q) does not match DOMAIN_SEPARATOR of %s", name, version, at.Hex())
	}
	return d, nil
}

func (s *Service) nonce(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	n, ok := s.resolver.Nonce(ctx, token, owner)
	if ok {
		return n, nil
	}
	if !s.cfg.NonceFallbackZero {
		return nil, permit.Invalidf("build", "nonce of %s on %s is unavailable", owner.Hex(), token.Hex())
	}
	s.log.Warn("using nonce 0 after failed read", zap.String("owner", owner.Hex()))
	return new(big.Int), nil
}

func (s *Service) sign(ctx context.Context, d permit.Domain, msg permit.Message) (*permit.SignedAuthorization, error) {
	if s.cfg.SignTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SignTimeout)
		defer cancel()
	}
	signed, err := signer.Sign(ctx, s.signer, d, msg)
	if err != nil {
		s.log.Warn("signing failed", zap.String("type", msg.PrimaryType()), zap.Error(err))
		return nil, err
	}
	s.log.Info("authorization signed", zap.String("type", msg.PrimaryType()), zap.String("owner", msg.Account().Hex()))
	return signed, nil
}

// BuildAndSignTransfer reads a fresh nonce, builds a Permit for amount and asks the
// signer to approve it.
func (s *Service) BuildAndSignTransfer(ctx context.Context, token, spender string, amount *big.Int, deadlineHours int64) (*permit.SignedAuthorization, error) {
	owner, err := s.Owner()
	if err != nil {
		return nil, err
	}
	tokenAddr, err := permit.ParseAddress("token", token)
	if err != nil {
		return nil, err
	}
	deadline, err := s.resolver.Deadline(deadlineHours)
	if err != nil {
		return nil, err
	}
	d, err := s.TokenDomain(ctx, tokenAddr)
	if err != nil {
		return nil, err
	}
	nonce, err := s.nonce(ctx, tokenAddr, owner)
	if err != nil {
		return nil, err
	}
	if bal, ok := s.balances.Token(ctx, tokenAddr, owner); ok && amount != nil && bal.Cmp(amount) < 0 {
		s.log.Warn("amount exceeds current balance; the transfer will fail unless the balance grows",
			zap.String("balance", bal.String()), zap.String("amount", amount.String()))
	}
	msg, err := s.builder.BuildTransferAuthorization(owner.Hex(), spender, amount, nonce, deadline)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, d, msg)
}

// BuildAndSignBatch builds one Approval over perms. Entries without a deadline get
// now + deadlineHours.
func (s *Service) BuildAndSignBatch(ctx context.Context, contract string, perms []permit.PermissionInput, deadlineHours int64, opts ...permit.BatchOption) (*permit.SignedAuthorization, error) {
	owner, err := s.Owner()
	if err != nil {
		return nil, err
	}
	contractAddr, err := permit.ParseAddress("contract", contract)
	if err != nil {
		return nil, err
	}
	in := make([]permit.PermissionInput, len(perms))
	copy(in, perms)
	for i := range in {
		if in[i].Deadline != 0 {
			continue
		}
		dl, err := s.resolver.Deadline(deadlineHours)
		if err != nil {
			return nil, err
		}
		in[i].Deadline = dl
	}
	msg, err := s.builder.BuildPermissionBatch(owner.Hex(), in, opts...)
	if err != nil {
		return nil, err
	}
	d, err := s.approvalDomain(ctx, contractAddr)
	if err != nil {
		return nil, err
	}
	return s.sign(ctx, d, msg)
}

// Redeem submits signed according to its message kind.
func (s *Service) Redeem(ctx context.Context, signed *permit.SignedAuthorization) (*Result, error) {
	if signed == nil {
		return nil, permit.Invalidf("redeem", "nil authorization")
	}
	switch signed.Message.(type) {
	case *permit.TransferAuthorization:
		return s.executor.RedeemSingle(ctx, signed)
	case *permit.PermissionBatch:
		return s.executor.RedeemBatch(ctx, signed)
	}
	return nil, permit.Invalidf("redeem", "unsupported message type %T", signed.Message)
}

// RetryTransfer re-runs the transfer phase of a pending redemption.
func (s *Service) RetryTransfer(ctx context.Context, id string) (*Result, error) {
	return s.executor.RetryTransfer(ctx, id)
}
