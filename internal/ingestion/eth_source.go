package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"yield-ledger/internal/domain"
	"yield-ledger/internal/observability"
)

// LogClient is the part of ethclient.Client the source needs.
type LogClient interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

const ledgerEventsABI = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"Referral","anonymous":false,"inputs":[
		{"name":"_amount","type":"uint256","indexed":false},
		{"name":"_ref","type":"address","indexed":false}]},
	{"type":"event","name":"Rebalance","anonymous":false,"inputs":[
		{"name":"_rebalancer","type":"address","indexed":false},
		{"name":"_amount","type":"uint256","indexed":false}]}
]`

// EthSource reads Transfer, Referral and Rebalance logs of the configured
// tokens with eth_getLogs.
type EthSource struct {
	client LogClient
	tokens []common.Address
	abi    abi.ABI
	logger *zap.Logger
}

// NewEthSource creates a source for the given token contracts.
func NewEthSource(client LogClient, tokens []string, logger *zap.Logger) (*EthSource, error) {
	parsed, err := abi.JSON(strings.NewReader(ledgerEventsABI))
	if err != nil {
		return nil, fmt.Errorf("parse ledger events abi: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("at least one token address is required")
	}

	addrs := make([]common.Address, 0, len(tokens))
	for _, t := range tokens {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("invalid token address %q", t)
		}
		addrs = append(addrs, common.HexToAddress(t))
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &EthSource{client: client, tokens: addrs, abi: parsed, logger: logger}, nil
}

// Head returns the latest block number.
func (s *EthSource) Head(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := s.client.BlockNumber(ctx)
	observability.RecordChainCall("eth_blockNumber", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return n, nil
}

// Fetch returns the decoded events of blocks [from, to]. Logs removed by a
// reorg are dropped.
func (s *EthSource) Fetch(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: s.tokens,
		Topics: [][]common.Hash{{
			s.abi.Events["Transfer"].ID,
			s.abi.Events["Referral"].ID,
			s.abi.Events["Rebalance"].ID,
		}},
	}

	start := time.Now()
	logs, err := s.client.FilterLogs(ctx, query)
	observability.RecordChainCall("eth_getLogs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d, %d]: %w", from, to, err)
	}

	timestamps := make(map[uint64]int64)
	events := make([]*domain.Event, 0, len(logs))
	for i := range logs {
		lg := &logs[i]
		if lg.Removed {
			continue
		}

		ts, ok := timestamps[lg.BlockNumber]
		if !ok {
			if ts, err = s.blockTimestamp(ctx, lg.BlockNumber); err != nil {
				return nil, err
			}
			timestamps[lg.BlockNumber] = ts
		}

		ev, err := s.decode(lg, ts)
		if err != nil {
			return nil, fmt.Errorf("decode log %s-%d: %w", lg.TxHash.Hex(), lg.Index, err)
		}
		events = append(events, ev)
	}

	counts := make(map[domain.EventKind]int)
	for _, ev := range events {
		counts[ev.Kind]++
	}
	for kind, n := range counts {
		observability.RecordEventsFetched(string(kind), n)
	}

	s.logger.Debug("fetched logs",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", len(logs)),
		zap.Int("events", len(events)),
	)
	return events, nil
}

func (s *EthSource) blockTimestamp(ctx context.Context, block uint64) (int64, error) {
	start := time.Now()
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	observability.RecordChainCall("eth_getBlockByNumber", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("get header %d: %w", block, err)
	}
	return int64(header.Time), nil
}

func (s *EthSource) decode(lg *types.Log, blockTimestamp int64) (*domain.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	token := domain.NormalizeAddress(lg.Address.Hex())
	txHash := strings.ToLower(lg.TxHash.Hex())
	txIndex := lg.TxIndex

	event, err := s.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, err
	}

	values, err := event.Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	switch event.Name {
	case "Transfer":
		if len(lg.Topics) != 3 || len(values) != 1 {
			return nil, fmt.Errorf("malformed Transfer log")
		}
		return domain.WrapTransfer(&domain.TransferEvent{
			TokenAddress:   token,
			From:           domain.NormalizeAddress(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
			To:             domain.NormalizeAddress(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
			Value:          abi.ConvertType(values[0], new(big.Int)).(*big.Int),
			BlockNumber:    lg.BlockNumber,
			BlockTimestamp: blockTimestamp,
			TxHash:         txHash,
			LogIndex:       lg.Index,
		}, txIndex), nil

	case "Referral":
		if len(values) != 2 {
			return nil, fmt.Errorf("malformed Referral log")
		}
		return domain.WrapReferral(&domain.ReferralEvent{
			TokenAddress:    token,
			Amount:          abi.ConvertType(values[0], new(big.Int)).(*big.Int),
			ReferrerAddress: domain.NormalizeAddress(values[1].(common.Address).Hex()),
			BlockNumber:     lg.BlockNumber,
			BlockTimestamp:  blockTimestamp,
			TxHash:          txHash,
			LogIndex:        lg.Index,
		}, txIndex), nil

	case "Rebalance":
		if len(values) != 2 {
			return nil, fmt.Errorf("malformed Rebalance log")
		}
		return domain.WrapRebalance(&domain.RebalanceEvent{
			TokenAddress:   token,
			Amount:         abi.ConvertType(values[1], new(big.Int)).(*big.Int),
			BlockNumber:    lg.BlockNumber,
			BlockTimestamp: blockTimestamp,
			TxHash:         txHash,
			LogIndex:       lg.Index,
		}, txIndex), nil
	}

	return nil, fmt.Errorf("unexpected event %s", event.Name)
}
