/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const etherDecimals = 18

// Registrar controller on Base mainnet
const DefaultRegistrarController = "0x4cCb0BB02FCABA27e82a56646E81d8c5bC4119a5"

const registrarABI = `[{"inputs":[{"internalType":"string","name":"name","type":"string"}],"name":"available","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`

// Client reads balances, blocks and name availability from a Base JSON-RPC endpoint
type Client struct {
	rpc           *rpc.Client
	eth           *ethclient.Client
	controller    common.Address
	controllerABI abi.ABI
	timeout       time.Duration
}

func NewClient(ctx context.Context, cfg models.ChainConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("chain rpc url cannot be empty")
	}
	if !common.IsHexAddress(cfg.RegistrarController) {
		return nil, fmt.Errorf("invalid registrar controller address %q", cfg.RegistrarController)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	parsed, err := abi.JSON(strings.NewReader(registrarABI))
	if err != nil {
		return nil, fmt.Errorf("unable to parse registrar abi: %w", err)
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("unable to dial chain rpc: %w", err)
	}

	c := &Client{
		rpc:           rpcClient,
		eth:           ethclient.NewClient(rpcClient),
		controller:    common.HexToAddress(cfg.RegistrarController),
		controllerABI: parsed,
		timeout:       timeout,
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	chainId, err := c.eth.ChainID(callCtx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("unable to read chain id: %w", err)
	}

	zap.L().Info("Connected to chain",
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("chain_id", chainId.String()),
		zap.String("registrar_controller", c.controller.Hex()))

	return c, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// BalanceAt returns the latest balance of address in ether
func (c *Client) BalanceAt(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("invalid address %q", address)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	wei, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, -etherDecimals), nil
}

// rpcBlock and rpcTransaction decode eth_getBlockByNumber directly; go-ethereum's typed
// decoder rejects OP-stack deposit transactions found in every Base block.
type rpcBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         string           `json:"hash"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcTransaction struct {
	Hash  string       `json:"hash"`
	From  string       `json:"from"`
	To    *string      `json:"to"`
	Value *hexutil.Big `json:"value"`
}

// RecentBlocks returns up to count blocks with transactions, newest first
func (c *Client) RecentBlocks(ctx context.Context, count int) ([]models.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}

	blocks := make([]models.Block, 0, count)
	for i := 0; i < count && uint64(i) <= head; i++ {
		var raw rpcBlock
		number := hexutil.EncodeUint64(head - uint64(i))
		if err := c.rpc.CallContext(ctx, &raw, "eth_getBlockByNumber", number, true); err != nil {
			return blocks, fmt.Errorf("failed to get block %s: %w", number, err)
		}
		if raw.Hash == "" {
			continue
		}
		blocks = append(blocks, toBlock(raw))
	}
	return blocks, nil
}

// IsAvailable asks the registrar controller whether label can be registered
func (c *Client) IsAvailable(ctx context.Context, label string) (bool, error) {
	data, err := c.controllerABI.Pack("available", label)
	if err != nil {
		return false, fmt.Errorf("failed to pack available call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.controller, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("available call failed: %w", err)
	}

	values, err := c.controllerABI.Unpack("available", out)
	if err != nil {
		return false, fmt.Errorf("failed to unpack available result: %w", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected available result length %d", len(values))
	}
	available, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected available result type %T", values[0])
	}
	return available, nil
}

func toBlock(raw rpcBlock) models.Block {
	block := models.Block{
		Number:       uint64(raw.Number),
		Hash:         raw.Hash,
		Transactions: make([]models.ChainTransaction, 0, len(raw.Transactions)),
	}
	for _, tx := range raw.Transactions {
		out := models.ChainTransaction{
			Hash:  tx.Hash,
			From:  tx.From,
			Value: decimal.Zero,
		}
		if tx.To != nil {
			out.To = *tx.To
		}
		if tx.Value != nil {
			out.Value = decimal.NewFromBigInt(tx.Value.ToInt(), -etherDecimals)
		}
		block.Transactions = append(block.Transactions, out)
	}
	return block
}
