package custody

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ERC20Options parameterise the on-chain balance reader.
type ERC20Options struct {
	RPCURL  string
	Timeout time.Duration
}

// ERC20 reads custody balances and token decimals over Ethereum RPC.
type ERC20 struct {
	opts      ERC20Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewERC20 builds an on-chain balance reader.
func NewERC20(opts ERC20Options, logger zerolog.Logger) *ERC20 {
	return &ERC20{opts: opts, logger: logger.With().Str("component", "custody_reader").Logger()}
}

// Balance calls balanceOf(holder) on the asset contract.
func (r *ERC20) Balance(ctx context.Context, asset, holder common.Address) (uint64, error) {
	outputs, err := r.call(ctx, asset, "balanceOf", holder)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected balanceOf response")
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return 0, errors.New("failed to decode balanceOf output")
	}
	if !balance.IsUint64() {
		return 0, errors.New("custody balance exceeds 64 bits")
	}
	return balance.Uint64(), nil
}

// Decimals calls decimals() on the asset contract.
func (r *ERC20) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	outputs, err := r.call(ctx, asset, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return decimals, nil
}

func (r *ERC20) call(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if r.opts.RPCURL == "" {
		return nil, errors.New("custody rpc url not configured")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return nil, err
	}
	return erc20ABI.Unpack(method, res)
}

func (r *ERC20) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

var _ BalanceReader = (*ERC20)(nil)
