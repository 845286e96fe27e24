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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

func Load() (*models.Config, error) {
	durations := map[string]*time.Duration{}
	defaults := []struct {
		key   string
		value time.Duration
	}{
		{"DEPOSIT_WINDOW", 30 * time.Minute},
		{"DB_CONN_MAX_LIFETIME", 5 * time.Minute},
		{"DB_CONN_MAX_IDLE_TIME", 30 * time.Second},
		{"DB_PING_TIMEOUT", 5 * time.Second},
		{"CHAIN_REQUEST_TIMEOUT", 10 * time.Second},
		{"SIGNER_TIMEOUT", 60 * time.Second},
		{"MESSAGING_BLOCK_TIMEOUT", 2 * time.Second},
		{"WATCHER_POLL_INTERVAL", 5 * time.Second},
		{"WATCHER_MAX_BACKOFF", 30 * time.Second},
		{"RATE_LIMIT_WINDOW", time.Minute},
	}
	for _, d := range defaults {
		value, err := getEnvDuration(d.key, d.value)
		if err != nil {
			return nil, err
		}
		durations[d.key] = &value
	}

	cfg := &models.Config{
		Agent: models.AgentConfig{
			InboxId:       getEnvString("AGENT_INBOX_ID", ""),
			LedgerBackend: strings.ToLower(getEnvString("LEDGER_BACKEND", "sqlite")),
			DepositWindow: *durations["DEPOSIT_WINDOW"],
			PricingFile:   getEnvString("PRICING_FILE", ""),
			ExplorerURL:   getEnvString("EXPLORER_URL", "https://basescan.org"),
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "requests.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: *durations["DB_CONN_MAX_LIFETIME"],
			ConnMaxIdleTime: *durations["DB_CONN_MAX_IDLE_TIME"],
			PingTimeout:     *durations["DB_PING_TIMEOUT"],
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "basenames-agent"),
		},
		Chain: models.ChainConfig{
			RPCURL:              getEnvString("BASE_RPC_URL", "https://mainnet.base.org"),
			RegistrarController: getEnvString("REGISTRAR_CONTROLLER", "0x4cCb0BB02FCABA27e82a56646E81d8c5bC4119a5"),
			RequestTimeout:      *durations["CHAIN_REQUEST_TIMEOUT"],
		},
		Signer: models.SignerConfig{
			BaseURL: getEnvString("SIGNER_URL", "http://localhost:3000"),
			Chain:   getEnvString("SIGNER_CHAIN", "evm"),
			Timeout: *durations["SIGNER_TIMEOUT"],
		},
		Redis: models.RedisConfig{
			URL: getEnvString("REDIS_URL", "redis://localhost:6379/0"),
		},
		Messaging: models.MessagingConfig{
			InboundStream:  getEnvString("MESSAGING_INBOUND_STREAM", "xmtp:inbound"),
			OutboundStream: getEnvString("MESSAGING_OUTBOUND_STREAM", "xmtp:outbound"),
			ConsumerGroup:  getEnvString("MESSAGING_CONSUMER_GROUP", "basenames-agent"),
			ConsumerName:   getEnvString("MESSAGING_CONSUMER_NAME", "agent-"+uuid.NewString()[:8]),
			BlockTimeout:   *durations["MESSAGING_BLOCK_TIMEOUT"],
		},
		Watcher: models.WatcherConfig{
			PollInterval:        *durations["WATCHER_POLL_INTERVAL"],
			MaxBackoff:          *durations["WATCHER_MAX_BACKOFF"],
			PayerLookbackBlocks: getEnvInt("WATCHER_PAYER_LOOKBACK_BLOCKS", 5),
		},
		RateLimit: models.RateLimitConfig{
			Backend: strings.ToLower(getEnvString("RATE_LIMIT_BACKEND", "memory")),
			Window:  *durations["RATE_LIMIT_WINDOW"],
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Agent.LedgerBackend == "formance" &&
		(cfg.Formance.StackURL == "" || cfg.Formance.ClientID == "" || cfg.Formance.ClientSecret == "") {
		return nil, fmt.Errorf("invalid configuration: formance ledger requires FORMANCE_STACK_URL, FORMANCE_CLIENT_ID and FORMANCE_CLIENT_SECRET")
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
