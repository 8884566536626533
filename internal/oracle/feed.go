package oracle

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

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// FeedOptions parameterise an on-chain price feed source.
type FeedOptions struct {
	Name        string
	RPCURL      string
	FeedAddress string
	// SlotDuration converts the feed's wall-clock age into host slots.
	SlotDuration time.Duration
	Timeout      time.Duration
}

// Feed reads a Chainlink-style aggregator contract and decodes its latest
// round into a PriceData tuple.
type Feed struct {
	opts      FeedOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewFeed builds an on-chain feed source.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	return &Feed{opts: opts, logger: logger.With().Str("component", "oracle_feed").Str("feed", opts.Name).Logger()}
}

// Name identifies the feed within the aggregator's priority list.
func (f *Feed) Name() string {
	if f.opts.Name != "" {
		return f.opts.Name
	}
	return f.opts.FeedAddress
}

// Read fetches latestRoundData and rescales the answer to targetPrecision.
func (f *Feed) Read(ctx context.Context, clockSlot uint64, targetPrecision uint32) (PriceData, error) {
	if f.opts.RPCURL == "" {
		return PriceData{}, errors.New("oracle feed rpc url not configured")
	}
	if f.opts.FeedAddress == "" {
		return PriceData{}, errors.New("oracle feed address not configured")
	}

	timeout := f.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := f.getClient(ctx)
	if err != nil {
		return PriceData{}, err
	}

	addr := common.HexToAddress(f.opts.FeedAddress)

	feedDecimals, err := f.callDecimals(ctx, client, addr)
	if err != nil {
		return PriceData{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return PriceData{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return PriceData{}, err
	}
	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return PriceData{}, err
	}
	if len(outputs) != 5 {
		return PriceData{}, errors.New("unexpected latestRoundData response")
	}

	roundID, ok := outputs[0].(*big.Int)
	if !ok {
		return PriceData{}, errors.New("failed to decode roundId")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return PriceData{}, errors.New("failed to decode answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return PriceData{}, errors.New("failed to decode updatedAt")
	}
	answeredInRound, ok := outputs[4].(*big.Int)
	if !ok {
		return PriceData{}, errors.New("failed to decode answeredInRound")
	}

	price, err := scaleMantissa(answer, uint32(feedDecimals), targetPrecision)
	if err != nil {
		return PriceData{}, err
	}

	slotDuration := f.opts.SlotDuration
	if slotDuration <= 0 {
		slotDuration = time.Second
	}
	age := time.Since(time.Unix(updatedAt.Int64(), 0))
	delaySlots := int64(age / slotDuration)

	return PriceData{
		Price: price,
		// Aggregator feeds expose no confidence interval, so the reading
		// never fails the confidence gate on its own.
		Confidence:           big.NewInt(0),
		DelaySlots:           delaySlots,
		HasSufficientSamples: answeredInRound.Cmp(roundID) >= 0,
	}, nil
}

func (f *Feed) callDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals")
	}
	return decimals, nil
}

func (f *Feed) getClient(ctx context.Context) (*ethclient.Client, error) {
	f.clientMux.Lock()
	defer f.clientMux.Unlock()

	if f.client != nil {
		return f.client, nil
	}
	client, err := ethclient.DialContext(ctx, f.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	f.client = client
	return client, nil
}

// scaleMantissa rescales a fixed-point mantissa from its original precision
// to the target precision. Scaling down truncates toward zero.
func scaleMantissa(mantissa *big.Int, originalPrecision, targetPrecision uint32) (*big.Int, error) {
	if mantissa == nil {
		return nil, errors.New("oracle: nil mantissa")
	}
	switch {
	case originalPrecision == targetPrecision:
		return new(big.Int).Set(mantissa), nil
	case originalPrecision > targetPrecision:
		return new(big.Int).Quo(mantissa, pow10(originalPrecision-targetPrecision)), nil
	default:
		return new(big.Int).Mul(mantissa, pow10(targetPrecision-originalPrecision)), nil
	}
}

func pow10(exp uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// StaticSource returns a fixed reading; used by the CLI for offline sizing
// and by tests.
type StaticSource struct {
	SourceName string
	Data       PriceData
	Err        error
}

// Name identifies the static source.
func (s *StaticSource) Name() string {
	if s.SourceName != "" {
		return s.SourceName
	}
	return "static"
}

// Read returns the fixed reading.
func (s *StaticSource) Read(ctx context.Context, clockSlot uint64, targetPrecision uint32) (PriceData, error) {
	if s.Err != nil {
		return PriceData{}, s.Err
	}
	return s.Data, nil
}

var _ Source = (*Feed)(nil)
var _ Source = (*StaticSource)(nil)
