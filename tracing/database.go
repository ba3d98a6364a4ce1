package tracing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountInfo is the subset of account state the builders need to read.
type AccountInfo struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash common.Hash
	Code     []byte // nil if not loaded
}

// Database is the read-only contract the trace builders consume from state.
// Errors are surfaced to the caller as builder errors; the inspector itself
// never touches this interface.
type Database interface {
	BasicAccount(addr common.Address) (*AccountInfo, error)
	CodeByHash(hash common.Hash) ([]byte, error)
	StorageAt(addr common.Address, slot common.Hash) (common.Hash, error)
	BlockHash(number uint64) (common.Hash, error)
}
