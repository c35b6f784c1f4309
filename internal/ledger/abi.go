package ledger

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DefaultABI covers EIP-2612 tokens plus the batch approval entry point.
// Deployments with a different shape pass their own ABI through LoadABI.
const DefaultABI = `[
  {"type":"function","stateMutability":"view","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","stateMutability":"view","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","stateMutability":"view","name":"DOMAIN_SEPARATOR","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","stateMutability":"view","name":"nonces",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"view","name":"balanceOf",
   "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"view","name":"allowance",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","stateMutability":"nonpayable","name":"permit",
   "inputs":[
     {"name":"owner","type":"address"},
     {"name":"spender","type":"address"},
     {"name":"value","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"v","type":"uint8"},
     {"name":"r","type":"bytes32"},
     {"name":"s","type":"bytes32"}
   ],"outputs":[]},
  {"type":"function","stateMutability":"nonpayable","name":"transferFrom",
   "inputs":[{"name":"sender","type":"address"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","stateMutability":"nonpayable","name":"executeApproval",
   "inputs":[
     {"name":"owner","type":"address"},
     {"name":"permissions","type":"tuple[]","components":[
       {"name":"token","type":"address"},
       {"name":"spender","type":"address"},
       {"name":"amount","type":"uint256"},
       {"name":"deadline","type":"uint256"},
       {"name":"unlimited","type":"bool"}
     ]},
     {"name":"signature","type":"bytes"}
   ],"outputs":[]}
]`

// Methods every ABI must expose; executeApproval is only needed for batches.
var requiredMethods = []string{"nonces", "balanceOf", "permit", "transferFrom"}

// ParseABI parses and checks an ABI JSON document.
func ParseABI(js string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	for _, m := range requiredMethods {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("abi is missing method %q", m)
		}
	}
	return parsed, nil
}

// LoadABI reads an ABI file, or returns DefaultABI when path is empty.
func LoadABI(path string) (abi.ABI, error) {
	if strings.TrimSpace(path) == "" {
		return ParseABI(DefaultABI)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	return ParseABI(string(b))
}
