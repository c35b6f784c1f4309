package main

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ligun0805/permit-kit/internal/authflow"
	"github.com/ligun0805/permit-kit/internal/config"
	"github.com/ligun0805/permit-kit/internal/ledger"
	"github.com/ligun0805/permit-kit/internal/logger"
	"github.com/ligun0805/permit-kit/internal/signer"
)

type app struct {
	cfg     config.Settings
	chainID *big.Int
	chain   *ledger.Chain
	svc     *authflow.Service
	owner   common.Address
	spender common.Address
}

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")
	cfg := config.Load()

	if err := logger.InitLogger(cfg.LogMode, true); err != nil {
		die("init logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	ec, err := ethclient.Dial(cfg.RPCURL)
	must(err, "dial RPC")
	chainID, err := ec.ChainID(ctx)
	must(err, "chain id")
	if cfg.ChainID != 0 && chainID.Cmp(big.NewInt(cfg.ChainID)) != 0 {
		die(fmt.Sprintf("CHAIN_ID=%d but the RPC node reports chain %s", cfg.ChainID, chainID))
	}

	parsed, err := ledger.LoadABI(cfg.LedgerABI)
	must(err, "ledger ABI")

	reader := bufio.NewReader(os.Stdin)

	spenderPK := cfg.SpenderPrivateKeyHex
	if spenderPK == "" {
		spenderPK = readPassword("Spender private key (submits permit/transferFrom): ")
	}
	spenderKey, err := ledger.ParseSenderKey(spenderPK)
	must(err, "bad spender key")

	chain := ledger.NewChain(ec, parsed, chainID,
		ledger.WithSenderKey(spenderKey),
		ledger.WithFeePolicy(ledger.FeePolicy{TipGwei: cfg.TipGwei, BaseMul: cfg.BasefeeMul, BufferPct: cfg.BufferPct}),
		ledger.WithLogger(logger.Log),
	)

	sg := openSigner(ctx, cfg)
	svc, err := authflow.NewService(ctx, authflow.Config{
		ChainID:           chainID,
		TokenName:         cfg.TokenName,
		TokenVersion:      cfg.TokenVersion,
		ApprovalName:      cfg.ApprovalName,
		ApprovalVersion:   cfg.ApprovalVersion,
		SignTimeout:       cfg.SignTimeout,
		TxTimeout:         cfg.TxTimeout,
		AllowUnlimited:    cfg.AllowUnlimited,
		NonceFallbackZero: cfg.NonceFallbackZero,
	}, chain, sg, authflow.WithLogger(logger.Log))
	must(err, "service")

	a := &app{cfg: cfg, chainID: chainID, chain: chain, svc: svc, owner: sg.Address(), spender: chain.Sender()}
	a.printConfig(ctx)

	for {
		fmt.Println("\n--- Mode: [1] single permit  [2] batch approval (CSV)  [3] retry pending transfer  [q] quit ---")
		switch strings.ToLower(readLine(reader, "> ")) {
		case "1":
			a.runSingle(ctx, reader)
		case "2":
			a.runBatch(ctx, reader)
		case "3":
			a.runRetry(ctx, reader)
		case "q", "quit", "exit":
			return
		default:
			fmt.Println("  [!] unknown mode")
		}
	}
}

// openSigner prefers an external wallet over a local owner key.
func openSigner(ctx context.Context, cfg config.Settings) signer.Signer {
	if cfg.WalletRPCURL != "" {
		if !common.IsHexAddress(cfg.WalletAddress) {
			die("WALLET_ADDRESS must be set when WALLET_RPC_URL is used")
		}
		w, err := signer.DialWallet(ctx, cfg.WalletRPCURL, common.HexToAddress(cfg.WalletAddress))
		must(err, "dial wallet")
		return w
	}
	pk := cfg.OwnerPrivateKeyHex
	if pk == "" {
		pk = readPassword("Owner private key (signs the permit): ")
	}
	s, err := signer.NewKeySignerFromHex(pk)
	must(err, "bad owner key")
	return s
}

func (a *app) printConfig(ctx context.Context) {
	b := a.svc.Balances()
	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("RPC_URL             :", a.cfg.RPCURL)
	fmt.Println("CHAIN_ID            :", a.chainID.String())
	fmt.Println("TOKEN_ADDRESS       :", a.cfg.TokenAddress)
	fmt.Println("APPROVAL_CONTRACT   :", a.cfg.ApprovalContract)
	if a.cfg.WalletRPCURL != "" {
		fmt.Println("WALLET_RPC_URL      :", a.cfg.WalletRPCURL)
	} else {
		fmt.Println("OWNER_PRIVATE_KEY   :", maskHex(a.cfg.OwnerPrivateKeyHex))
	}
	fmt.Println("  -> Owner address  :", a.owner.Hex())
	fmt.Println("SPENDER_PRIVATE_KEY :", maskHex(a.cfg.SpenderPrivateKeyHex))
	fmt.Println("  -> Spender address:", a.spender.Hex())
	if bal, ok := b.Native(ctx, a.spender); ok {
		fmt.Println("  -> Spender balance:", formatEther(bal), "ETH")
	}
	fmt.Println("Deadline (hours)    :", a.cfg.DeadlineHours)
	fmt.Println("Sign / tx timeout   :", a.cfg.SignTimeout, "/", a.cfg.TxTimeout)
	fmt.Println("Tip (gwei)          :", a.cfg.TipGwei)
	fmt.Println("BaseFeeMul          :", a.cfg.BasefeeMul)
	fmt.Println("BufferPct           :", a.cfg.BufferPct)
	fmt.Println("Allow unlimited     :", a.cfg.AllowUnlimited)
	fmt.Println("Rehearse            :", a.cfg.Rehearse)
	fmt.Println("=====================")
	logger.Debug("config loaded", zap.String("chain_id", a.chainID.String()))
}
