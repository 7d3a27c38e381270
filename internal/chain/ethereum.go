package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/observability"
)

// Default configuration values.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// revertCode is the JSON-RPC error code geth uses for execution reverts.
const revertCode = 3

var revertMarkers = []string{
	"execution reverted",
	"invalid opcode",
	"abi: attempting to unmarshall an empty string while arguments are expected",
}

// EthBinding implements Binding over a go-ethereum contract caller.
type EthBinding struct {
	caller      bind.ContractCaller
	abi         abi.ABI
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      *zap.Logger
}

// BindingOption configures EthBinding.
type BindingOption func(*EthBinding)

// WithMaxRetries sets maximum retry attempts for transport failures.
func WithMaxRetries(n int) BindingOption {
	return func(b *EthBinding) {
		b.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) BindingOption {
	return func(b *EthBinding) {
		b.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) BindingOption {
	return func(b *EthBinding) {
		b.maxDelay = d
	}
}

// WithLogger sets the logger used to report retried calls.
func WithLogger(l *zap.Logger) BindingOption {
	return func(b *EthBinding) {
		b.logger = l
	}
}

// NewEthBinding creates a binding over caller, typically an *ethclient.Client.
func NewEthBinding(caller bind.ContractCaller, opts ...BindingOption) (*EthBinding, error) {
	parsed, err := abi.JSON(strings.NewReader(yieldTokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse yield token abi: %w", err)
	}

	b := &EthBinding{
		caller:      caller,
		abi:         parsed,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// At returns a reader whose calls run against the state at blockNumber.
func (b *EthBinding) At(blockNumber uint64) Reader {
	return &ethReader{binding: b, block: new(big.Int).SetUint64(blockNumber)}
}

type ethReader struct {
	binding *EthBinding
	block   *big.Int
}

// call performs an eth_call with retries and exponential backoff.
// Reverts are deterministic and are not retried.
func (r *ethReader) call(ctx context.Context, addr, method string, args ...interface{}) ([]interface{}, error) {
	b := r.binding
	contract := bind.NewBoundContract(common.HexToAddress(addr), b.abi, b.caller, nil, nil)
	opts := &bind.CallOpts{Context: ctx, BlockNumber: r.block}

	delay := b.retryDelay
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * b.backoffMult)
			if delay > b.maxDelay {
				delay = b.maxDelay
			}
		}

		var out []interface{}
		start := time.Now()
		err := contract.Call(opts, &out, method, args...)
		observability.RecordChainCall(method, time.Since(start), err)

		if err == nil {
			return out, nil
		}
		if IsRevert(err) {
			return nil, fmt.Errorf("%s on %s at block %s: %w (%v)", method, addr, r.block, ErrReverted, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		b.logger.Warn("contract call failed, retrying",
			zap.String("method", method),
			zap.String("address", addr),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("%s on %s: max retries exceeded: %w", method, addr, lastErr)
}

func (r *ethReader) callBig(ctx context.Context, addr, method string, args ...interface{}) (*big.Int, error) {
	out, err := r.call(ctx, addr, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (r *ethReader) callAddress(ctx context.Context, addr, method string, args ...interface{}) (string, error) {
	out, err := r.call(ctx, addr, method, args...)
	if err != nil {
		return "", err
	}
	a := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	return domain.NormalizeAddress(a.Hex()), nil
}

func (r *ethReader) CurrentPrice(ctx context.Context, token string) (*big.Int, error) {
	return r.callBig(ctx, token, "tokenPrice")
}

func (r *ethReader) CurrentFee(ctx context.Context, token string) (*big.Int, error) {
	return r.callBig(ctx, token, "fee")
}

func (r *ethReader) Decimals(ctx context.Context, addr string) (uint8, error) {
	out, err := r.call(ctx, addr, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (r *ethReader) Name(ctx context.Context, addr string) (string, error) {
	out, err := r.call(ctx, addr, "name")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

func (r *ethReader) UnderlyingAddress(ctx context.Context, token string) (string, error) {
	return r.callAddress(ctx, token, "token")
}

func (r *ethReader) UserAveragePrice(ctx context.Context, token, user string) (*big.Int, error) {
	return r.callBig(ctx, token, "userAvgPrices", common.HexToAddress(user))
}

func (r *ethReader) AllocationAt(ctx context.Context, token string, index int) (*big.Int, error) {
	v, err := r.callBig(ctx, token, "lastAllocations", big.NewInt(int64(index)))
	return v, outOfRange(err)
}

func (r *ethReader) LendingTargetAt(ctx context.Context, token string, index int) (string, error) {
	v, err := r.callAddress(ctx, token, "allAvailableTokens", big.NewInt(int64(index)))
	return v, outOfRange(err)
}

// outOfRange maps a revert from an array getter to ErrOutOfRange.
func outOfRange(err error) error {
	if errors.Is(err, ErrReverted) {
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	return err
}

// IsRevert reports whether err is a deterministic contract failure rather
// than a transport problem.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReverted) || errors.Is(err, bind.ErrNoCode) {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertCode {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range revertMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var _ Binding = (*EthBinding)(nil)
