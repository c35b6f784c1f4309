package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/permit-kit/internal/authflow"
	"github.com/ligun0805/permit-kit/internal/permit"
)

func (a *app) decimals(ctx context.Context, token common.Address) int {
	d, err := a.chain.Decimals(ctx, token)
	if err != nil {
		fmt.Println("  [!] decimals():", err, "- assuming 18")
		return 18
	}
	return int(d)
}

func (a *app) askHours(r *bufio.Reader) int64 {
	s := readLine(r, fmt.Sprintf("Deadline in hours [%d]: ", a.cfg.DeadlineHours))
	if s == "" {
		return a.cfg.DeadlineHours
	}
	h, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return h
}

func (a *app) runSingle(ctx context.Context, r *bufio.Reader) {
	token := readLine(r, fmt.Sprintf("Token address [%s]: ", a.cfg.TokenAddress))
	if token == "" {
		token = a.cfg.TokenAddress
	}
	if !common.IsHexAddress(token) {
		fmt.Println("  [!] invalid token address")
		return
	}
	tokenAddr := common.HexToAddress(token)
	dec := a.decimals(ctx, tokenAddr)

	b := a.svc.Balances()
	if bal, ok := b.Token(ctx, tokenAddr, a.owner); ok {
		fmt.Println("  Decimals:", dec, " | owner balance:", formatTokensFromWei(bal, dec))
	} else {
		fmt.Println("  Decimals:", dec, " | owner balance: unavailable")
	}

	amount, err := toWeiFromTokens(readLine(r, "Amount (in tokens): "), dec)
	if err != nil {
		fmt.Println("  [!] amount:", err)
		return
	}
	spender := readLine(r, fmt.Sprintf("Spender [%s]: ", a.spender.Hex()))
	if spender == "" {
		spender = a.spender.Hex()
	}
	hours := a.askHours(r)

	fmt.Println("  Waiting for the owner's signature...")
	signed, err := a.svc.BuildAndSignTransfer(ctx, tokenAddr.Hex(), spender, amount, hours)
	if err != nil {
		printFailure(nil, err)
		return
	}
	t := signed.Transfer()
	fmt.Println("  Signed permit: nonce", t.Nonce.String(), "deadline", time.Unix(int64(t.Deadline), 0).UTC().Format(time.RFC3339))
	fmt.Println("  Signature    :", signed.SignatureHex())

	if !a.rehearseThenConfirm(ctx, r, signed, gasPermit+gasTransfer) {
		return
	}
	res, err := a.svc.Redeem(ctx, signed)
	if err != nil {
		printFailure(res, err)
		return
	}
	fmt.Println("  [OK] transferred", formatTokensFromWei(t.Value, dec))
	fmt.Println("    permit tx  :", res.PermitTxID)
	fmt.Println("    transfer tx:", res.TxID)
}

func (a *app) runBatch(ctx context.Context, r *bufio.Reader) {
	contract := readLine(r, fmt.Sprintf("Approval contract [%s]: ", a.cfg.ApprovalContract))
	if contract == "" {
		contract = a.cfg.ApprovalContract
	}
	path := readLine(r, fmt.Sprintf("CSV path (token,spender,amount[,hours]) [%s]: ", a.cfg.BatchCSV))
	if path == "" {
		path = a.cfg.BatchCSV
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("  [!] open CSV:", err)
		return
	}
	perms, err := parseBatchCSV(f, time.Now(), a.cfg.DeadlineHours, func(tok common.Address) (int, error) {
		return a.decimals(ctx, tok), nil
	})
	_ = f.Close()
	if err != nil {
		fmt.Println("  [!]", err)
		return
	}

	var opts []permit.BatchOption
	for _, p := range perms {
		if p.Unlimited {
			fmt.Println("  [WARN] the batch contains UNLIMITED permissions for", p.Token, "->", p.Spender)
			if !yes(readLine(r, "  Grant unlimited permissions? (y/N): ")) {
				fmt.Println("  cancelled")
				return
			}
			opts = append(opts, permit.ConfirmUnlimited())
			break
		}
	}
	fmt.Printf("  %d permissions, waiting for the owner's signature...\n", len(perms))
	signed, err := a.svc.BuildAndSignBatch(ctx, contract, perms, a.cfg.DeadlineHours, opts...)
	if err != nil {
		printFailure(nil, err)
		return
	}
	if signed.Batch().HasUnlimited() {
		fmt.Println("  [WARN] signed batch grants at least one unlimited allowance")
	}
	if !a.rehearseThenConfirm(ctx, r, signed, gasApprovalBase+gasApprovalEach*uint64(len(perms))) {
		return
	}
	res, err := a.svc.Redeem(ctx, signed)
	if err != nil {
		printFailure(res, err)
		return
	}
	fmt.Println("  [OK] batch approval registered, tx:", res.TxID)
}

func (a *app) runRetry(ctx context.Context, r *bufio.Reader) {
	pending := a.svc.Executor().Pending().List()
	if len(pending) == 0 {
		fmt.Println("  no pending transfers")
		return
	}
	for i, p := range pending {
		fmt.Printf("  [%d] %s token=%s value=%s attempts=%d last=%q\n", i+1, p.ID, p.Token.Hex(), p.Value, p.Attempts, p.LastError)
	}
	n, err := strconv.Atoi(readLine(r, "Retry which? "))
	if err != nil || n < 1 || n > len(pending) {
		fmt.Println("  [!] invalid choice")
		return
	}
	res, err := a.svc.RetryTransfer(ctx, pending[n-1].ID)
	if err != nil {
		printFailure(res, err)
		return
	}
	fmt.Println("  [OK] transfer tx:", res.TxID)
}

func (a *app) rehearseThenConfirm(ctx context.Context, r *bufio.Reader, signed *permit.SignedAuthorization, gas uint64) bool {
	if a.cfg.Rehearse {
		res, err := rehearse(ctx, a.chain, a.chainID, a.spender, signed)
		if err != nil {
			fmt.Println("  [X] rehearsal failed; nothing was submitted")
			printFailure(res, err)
			return false
		}
		fmt.Println("  Rehearsal:", res.State)
	}
	a.printNetworkState(ctx, gas)
	if !yes(readLine(r, "Submit on-chain? (y/N): ")) {
		fmt.Println("  not submitted; the signature stays valid until its deadline")
		return false
	}
	return true
}

// printFailure keeps the terminal states apart: declined, rejected, expired, unknown.
func printFailure(res *authflow.Result, err error) {
	var pe *permit.Error
	if !errors.As(err, &pe) {
		fmt.Println("  [!] error:", err)
		return
	}
	switch pe.Kind {
	case permit.KindUserRejected:
		fmt.Println("  [X] signature declined:", err)
	case permit.KindExpired:
		fmt.Println("  [X] expired: build a fresh authorization")
	case permit.KindInconclusive:
		fmt.Println("  [?] inconclusive: the transaction may still be mined; check", pe.TxHash, "before retrying")
	case permit.KindNetwork:
		fmt.Println("  [!] network failure, nothing was broadcast:", err)
	case permit.KindPermissionRejected, permit.KindTransferRejected, permit.KindBatchRejected:
		fmt.Println("  [X] rejected on chain:", err)
	default:
		fmt.Println("  [!]", err)
	}
	if res == nil {
		return
	}
	if !res.State.Terminal() {
		fmt.Println("    state:", res.State, "(not final)")
	}
	if res.PermitTxID != "" {
		fmt.Println("    permit tx:", res.PermitTxID)
	}
	if res.Warning != "" {
		fmt.Println("  [WARN]", strings.TrimSpace(res.Warning))
	}
}
