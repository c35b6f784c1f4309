package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings keeps all configuration options.
// Every key is accepted in UPPER_CASE and lower_case.
type Settings struct {
	RPCURL  string
	ChainID int64 // 0 = ask the node

	TokenAddress     string
	TokenName        string // empty = read name() from the token
	TokenVersion     string
	ApprovalContract string
	ApprovalName     string
	ApprovalVersion  string

	OwnerPrivateKeyHex   string
	WalletRPCURL         string // external signer (eth_signTypedData_v4) instead of a local key
	WalletAddress        string
	SpenderPrivateKeyHex string

	DeadlineHours int64
	SignTimeout   time.Duration
	TxTimeout     time.Duration

	TipGwei    int64
	BasefeeMul int64
	BufferPct  int64
	LedgerABI  string
	BatchCSV   string

	AllowUnlimited    bool
	NonceFallbackZero bool
	Rehearse          bool
	LogMode           string
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}
	getSeconds := func(keys []string, def int64) time.Duration {
		n := getInt64(keys, def)
		if n <= 0 {
			n = def
		}
		return time.Duration(n) * time.Second
	}

	st := Settings{}
	st.RPCURL = get([]string{"rpc_url", "RPC_URL"}, "https://eth.llamarpc.com")
	st.ChainID = getInt64([]string{"chain_id", "CHAIN_ID"}, 0)

	st.TokenAddress = get([]string{"token_address", "TOKEN_ADDRESS"}, "")
	st.TokenName = get([]string{"token_name", "TOKEN_NAME"}, "")
	st.TokenVersion = get([]string{"token_version", "TOKEN_VERSION"}, "1")
	st.ApprovalContract = get([]string{"approval_contract", "APPROVAL_CONTRACT"}, "")
	st.ApprovalName = get([]string{"approval_name", "APPROVAL_NAME"}, "")
	st.ApprovalVersion = get([]string{"approval_version", "APPROVAL_VERSION"}, "1")

	st.OwnerPrivateKeyHex = get([]string{"owner_private_key", "OWNER_PRIVATE_KEY"}, "")
	st.WalletRPCURL = get([]string{"wallet_rpc_url", "WALLET_RPC_URL"}, "")
	st.WalletAddress = get([]string{"wallet_address", "WALLET_ADDRESS"}, "")
	st.SpenderPrivateKeyHex = get([]string{"spender_private_key", "SPENDER_PRIVATE_KEY"}, "")

	st.DeadlineHours = getInt64([]string{"deadline_hours", "DEADLINE_HOURS"}, 24)
	st.SignTimeout = getSeconds([]string{"sign_timeout_sec", "SIGN_TIMEOUT_SEC"}, 120)
	st.TxTimeout = getSeconds([]string{"tx_timeout_sec", "TX_TIMEOUT_SEC"}, 180)

	st.TipGwei = getInt64([]string{"tip_gwei", "TIP_GWEI"}, 0)
	st.BasefeeMul = getInt64([]string{"basefee_mul", "BASEFEE_MUL"}, 2)
	st.BufferPct = getInt64([]string{"buffer_pct", "BUFFER_PCT"}, 5)
	st.LedgerABI = get([]string{"ledger_abi_path", "LEDGER_ABI_PATH"}, "")
	st.BatchCSV = get([]string{"batch_csv", "BATCH_CSV"}, "")

	st.AllowUnlimited = getBool([]string{"allow_unlimited", "ALLOW_UNLIMITED"}, false)
	st.NonceFallbackZero = getBool([]string{"nonce_fallback_zero", "NONCE_FALLBACK_ZERO"}, true)
	st.Rehearse = getBool([]string{"rehearse", "REHEARSE"}, true)
	st.LogMode = get([]string{"log_mode", "LOG_MODE"}, "development")

	return st
}
