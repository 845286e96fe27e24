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

package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

var (
	ErrDerivation = errors.New("address derivation failed")
	ErrSubmission = errors.New("registration submission failed")
)

const maxErrorBody = 512

// Service talks to the chain-signature sidecar that owns the MPC keys
type Service struct {
	baseURL    string
	chain      string
	httpClient http.Client
}

func NewService(cfg models.SignerConfig) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("signer base url cannot be empty")
	}

	httpClient, err := createCustomHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	chain := cfg.Chain
	if chain == "" {
		chain = "evm"
	}

	return &Service{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		chain:      chain,
		httpClient: httpClient,
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Chain is the derivation target passed when callers do not pick one
func (s *Service) Chain() string {
	return s.chain
}

// DeriveAddress returns the address controlled by the agent for path. The same path always yields the same address.
func (s *Service) DeriveAddress(ctx context.Context, path, chain string) (string, error) {
	if chain == "" {
		chain = s.chain
	}

	var resp models.DeriveAddressResponse
	if err := s.post(ctx, "/api/address", models.DeriveAddressRequest{Path: path, Chain: chain}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrDerivation, resp.Error)
	}
	if !common.IsHexAddress(resp.Address) {
		return "", fmt.Errorf("%w: sidecar returned invalid address %q", ErrDerivation, resp.Address)
	}

	address := common.HexToAddress(resp.Address).Hex()
	zap.L().Debug("Derived deposit address",
		zap.String("path", path),
		zap.String("address", address))
	return address, nil
}

// SubmitRegistration registers name to payer, paying from the deposit address of path
func (s *Service) SubmitRegistration(ctx context.Context, name, payer, path, depositAddress string) (string, error) {
	req := models.RegisterRequest{
		Name:           name,
		Recipient:      payer,
		Path:           path,
		DepositAddress: depositAddress,
	}

	var resp models.RegisterResponse
	if err := s.post(ctx, "/api/register", req, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	if !resp.Success || resp.Hash == "" {
		reason := resp.Error
		if reason == "" {
			reason = "no transaction hash returned"
		}
		return "", fmt.Errorf("%w: %s", ErrSubmission, reason)
	}

	zap.L().Info("Registration submitted",
		zap.String("name", name),
		zap.String("recipient", payer),
		zap.String("tx_hash", resp.Hash))
	return resp.Hash, nil
}

func (s *Service) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("unable to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unable to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// the sidecar reports failures as {"error": "..."} with a non 2xx status
		if err := json.Unmarshal(data, out); err == nil {
			return nil
		}
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to decode response from %s: %w", path, err)
	}
	return nil
}
