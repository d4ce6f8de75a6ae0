package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractCaller is the read-only subset of an EVM JSON-RPC client the price
// feeds need. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial opens an EVM JSON-RPC client for endpoint.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("rpc endpoint required")
	}
	return ethclient.DialContext(ctx, endpoint)
}
