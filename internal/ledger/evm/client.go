// Package evm implements domain.LedgerClient against the BetChain contract
// over an Ethereum JSON-RPC endpoint. Reads go through eth_call; writes are
// signed locally, broadcast, and confirmed by polling for the receipt.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/betchain/settlementd/internal/domain"
)

// ClientConfig holds chain connection parameters.
type ClientConfig struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// PollInterval is how often Await checks for the transaction receipt.
	PollInterval time.Duration
	// GasLimitCap bounds estimated gas; 0 means no cap.
	GasLimitCap uint64
}

// Client is the concrete LedgerClient. It holds no mutable state beyond the
// RPC connection and the signing capability.
type Client struct {
	eth          *ethclient.Client
	contract     common.Address
	chainID      *big.Int
	signer       Signer
	pollInterval time.Duration
	gasLimitCap  uint64
	logger       *slog.Logger
}

// New dials the RPC endpoint and verifies the chain id matches the
// configuration.
func New(ctx context.Context, cfg ClientConfig, signer Signer, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", cfg.RPCURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("evm: chain id mismatch: node reports %d, config wants %d",
			chainID.Int64(), cfg.ChainID)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Client{
		eth:          eth,
		contract:     common.HexToAddress(cfg.ContractAddress),
		chainID:      chainID,
		signer:       signer,
		pollInterval: pollInterval,
		gasLimitCap:  cfg.GasLimitCap,
		logger:       logger.With(slog.String("component", "ledger")),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call packs a view method, executes it via eth_call, and unpacks the
// outputs.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := betChainABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, domain.NewLedgerError(domain.LedgerNetwork, fmt.Sprintf("call %s", method), err)
	}

	values, err := betChainABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	return values, nil
}

// ListEventIDs returns every event id the contract knows.
func (c *Client) ListEventIDs(ctx context.Context) ([]int64, error) {
	values, err := c.call(ctx, "getEventIds")
	if err != nil {
		return nil, err
	}

	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: getEventIds returned %T", values[0])
	}

	ids := make([]int64, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, id.Int64())
	}
	return ids, nil
}

// GetEvent reads the on-chain record of one event.
func (c *Client) GetEvent(ctx context.Context, id int64) (domain.LedgerEvent, error) {
	values, err := c.call(ctx, "getEvent", big.NewInt(id))
	if err != nil {
		return domain.LedgerEvent{}, err
	}

	name, _ := values[0].(string)
	closeTime, _ := values[1].(*big.Int)
	closed, _ := values[2].(bool)
	winningOption, _ := values[3].(*big.Int)
	pool, _ := values[4].(*big.Int)
	if closeTime == nil || winningOption == nil || pool == nil {
		return domain.LedgerEvent{}, fmt.Errorf("evm: malformed getEvent output for %d", id)
	}

	return domain.LedgerEvent{
		ID:            id,
		Name:          name,
		CloseTime:     time.Unix(closeTime.Int64(), 0).UTC(),
		Closed:        closed,
		WinningOption: int(winningOption.Int64()),
		Pool:          pool,
	}, nil
}

// GetUserBet reads a user's stake on an event. A zero amount means the user
// never bet.
func (c *Client) GetUserBet(ctx context.Context, id int64, user string) (domain.LedgerBet, bool, error) {
	values, err := c.call(ctx, "getUserBet", big.NewInt(id), common.HexToAddress(user))
	if err != nil {
		return domain.LedgerBet{}, false, err
	}

	amount, _ := values[0].(*big.Int)
	option, _ := values[1].(*big.Int)
	claimed, _ := values[2].(bool)
	if amount == nil || option == nil {
		return domain.LedgerBet{}, false, fmt.Errorf("evm: malformed getUserBet output for %d/%s", id, user)
	}
	if amount.Sign() == 0 {
		return domain.LedgerBet{}, false, nil
	}

	return domain.LedgerBet{
		Amount:  amount,
		Option:  int(option.Int64()),
		Claimed: claimed,
	}, true, nil
}

// GetOutcomeTotal reads the total staked on one option of an event.
func (c *Client) GetOutcomeTotal(ctx context.Context, id int64, option int) (*big.Int, error) {
	values, err := c.call(ctx, "getOutcomeTotal", big.NewInt(id), big.NewInt(int64(option)))
	if err != nil {
		return nil, err
	}

	total, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: getOutcomeTotal returned %T", values[0])
	}
	return total, nil
}

// SubmitBet broadcasts a placeBet transaction carrying the stake as value.
func (c *Client) SubmitBet(ctx context.Context, id int64, option int, amount *big.Int) (domain.TxHandle, error) {
	return c.submit(ctx, "placeBet", amount, big.NewInt(id), big.NewInt(int64(option)))
}

// SubmitResolve broadcasts a closeEvent transaction.
func (c *Client) SubmitResolve(ctx context.Context, id int64, winningOption int) (domain.TxHandle, error) {
	return c.submit(ctx, "closeEvent", nil, big.NewInt(id), big.NewInt(int64(winningOption)))
}

// SubmitClaim broadcasts a claimReward transaction on the caller's behalf.
func (c *Client) SubmitClaim(ctx context.Context, id int64, user string) (domain.TxHandle, error) {
	return c.submit(ctx, "claimReward", nil, big.NewInt(id))
}

// WithdrawFees broadcasts the administrative fee-withdrawal transaction.
func (c *Client) WithdrawFees(ctx context.Context) (domain.TxHandle, error) {
	return c.submit(ctx, "withdrawFees", nil)
}

// submit packs, signs, and broadcasts a state-changing method. The value
// parameter attaches native value for payable methods and may be nil.
func (c *Client) submit(ctx context.Context, method string, value *big.Int, args ...any) (domain.TxHandle, error) {
	data, err := betChainABI.Pack(method, args...)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}

	from := c.signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.TxHandle{}, domain.NewLedgerError(domain.LedgerNetwork, "pending nonce", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return domain.TxHandle{}, domain.NewLedgerError(domain.LedgerNetwork, "gas price", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &c.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		// Estimation executes the call; a failure here usually is the
		// contract rejecting the operation before any value moves.
		return domain.TxHandle{}, domain.NewLedgerError(domain.LedgerReverted, revertReason(err), err)
	}
	if c.gasLimitCap > 0 && gasLimit > c.gasLimitCap {
		gasLimit = c.gasLimitCap
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return domain.TxHandle{}, domain.NewLedgerError(domain.LedgerRejected, "signer declined", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return domain.TxHandle{}, domain.NewLedgerError(domain.LedgerNetwork, "broadcast", err)
	}

	c.logger.Info("transaction submitted",
		slog.String("method", method),
		slog.String("tx", signed.Hash().Hex()),
	)

	return domain.TxHandle{Hash: signed.Hash().Hex()}, nil
}

// Await polls for the transaction receipt until it lands or the context
// expires. A context expiry is reported as a network error: the
// transaction may still be included later, so callers must re-query ledger
// state before treating it as failed.
func (c *Client) Await(ctx context.Context, h domain.TxHandle) (domain.TxResult, error) {
	hash := common.HexToHash(h.Hash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusSuccessful {
				return domain.TxResult{
					TxID:        h.Hash,
					BlockNumber: receipt.BlockNumber.Uint64(),
				}, nil
			}
			reason := c.replayForReason(ctx, hash, receipt.BlockNumber)
			return domain.TxResult{}, domain.NewLedgerError(domain.LedgerReverted, reason, nil)
		case errors.Is(err, ethereum.NotFound):
			// Not mined yet; keep polling.
		case ctx.Err() != nil:
			return domain.TxResult{}, domain.NewLedgerError(domain.LedgerNetwork, "confirmation wait expired", ctx.Err())
		default:
			return domain.TxResult{}, domain.NewLedgerError(domain.LedgerNetwork, "receipt lookup", err)
		}

		select {
		case <-ctx.Done():
			return domain.TxResult{}, domain.NewLedgerError(domain.LedgerNetwork, "confirmation wait expired", ctx.Err())
		case <-ticker.C:
		}
	}
}

// replayForReason re-executes a reverted transaction as a call at its block
// to recover the revert reason. Best effort: when the node won't replay it,
// the generic message stands.
func (c *Client) replayForReason(ctx context.Context, hash common.Hash, blockNumber *big.Int) string {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return "execution reverted"
	}

	_, err = c.eth.CallContract(ctx, ethereum.CallMsg{
		From:  c.signer.Address(),
		To:    tx.To(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, blockNumber)
	if err != nil {
		return revertReason(err)
	}
	return "execution reverted"
}

// revertReason extracts the most specific reason string available from a
// node error.
func revertReason(err error) string {
	if err == nil {
		return "execution reverted"
	}
	return err.Error()
}

// Compile-time interface check.
var _ domain.LedgerClient = (*Client)(nil)
