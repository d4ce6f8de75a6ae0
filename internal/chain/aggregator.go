package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"DTokenSale/internal/pricing"
)

const aggregatorV3ABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"latestRoundData","outputs":[
  {"internalType":"uint80","name":"roundId","type":"uint80"},
  {"internalType":"int256","name":"answer","type":"int256"},
  {"internalType":"uint256","name":"startedAt","type":"uint256"},
  {"internalType":"uint256","name":"updatedAt","type":"uint256"},
  {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Round is one answer of a Chainlink AggregatorV3 feed.
type Round struct {
	RoundID   *big.Int
	Answer    *big.Int
	UpdatedAt int64
}

// AggregatorFeed reads a Chainlink AggregatorV3 contract. The feed's decimals
// are read once and cached.
type AggregatorFeed struct {
	caller  ContractCaller
	address common.Address

	mu       sync.Mutex
	decimals *uint8
}

var _ pricing.Feed = (*AggregatorFeed)(nil)

func NewAggregatorFeed(caller ContractCaller, address common.Address) *AggregatorFeed {
	return &AggregatorFeed{caller: caller, address: address}
}

func (f *AggregatorFeed) Address() common.Address { return f.address }

func (f *AggregatorFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("aggregator %s: unexpected decimals type %T", f.address.Hex(), out[0])
	}
	f.decimals = &dec
	return dec, nil
}

func (f *AggregatorFeed) LatestRound(ctx context.Context) (Round, error) {
	out, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return Round{}, err
	}
	roundID, _ := out[0].(*big.Int)
	answer, _ := out[1].(*big.Int)
	updatedAt, _ := out[3].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil {
		return Round{}, fmt.Errorf("aggregator %s: malformed round data", f.address.Hex())
	}
	return Round{RoundID: roundID, Answer: answer, UpdatedAt: updatedAt.Int64()}, nil
}

// LatestPrice implements pricing.Feed.
func (f *AggregatorFeed) LatestPrice(ctx context.Context) (pricing.Price, error) {
	dec, err := f.Decimals(ctx)
	if err != nil {
		return pricing.Price{}, err
	}
	round, err := f.LatestRound(ctx)
	if err != nil {
		return pricing.Price{}, err
	}
	if round.Answer.Sign() <= 0 {
		return pricing.Price{}, fmt.Errorf("aggregator %s: non-positive answer %s", f.address.Hex(), round.Answer)
	}
	return pricing.Price{Value: round.Answer, Decimals: dec}, nil
}

func (f *AggregatorFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	to := f.address
	raw, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregator %s %s: %w", f.address.Hex(), method, err)
	}
	out, err := aggregatorABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("aggregator %s %s: %w", f.address.Hex(), method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("aggregator %s %s: empty result", f.address.Hex(), method)
	}
	return out, nil
}
