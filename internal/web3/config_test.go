package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitionsExpandsEnv(t *testing.T) {
	t.Setenv("VAULTGUARD_TEST_RPC", "http://127.0.0.1:8545")
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := `chains:
  local:
    type: evm
    rpc_url: ${VAULTGUARD_TEST_RPC}
    chain_id: 31337
    description: anvil
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chain config: %v", err)
	}
	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("LoadChainDefinitions: %v", err)
	}
	local, ok := defs.Chains["local"]
	if !ok {
		t.Fatalf("missing chain: %+v", defs)
	}
	if local.RPCURL != "http://127.0.0.1:8545" || local.ChainID != 31337 {
		t.Fatalf("unexpected chain: %+v", local)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil || defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("unexpected result %+v, %v", defs, err)
	}
}
