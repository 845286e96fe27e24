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

package models

import "time"

// Config represents the application configuration
type Config struct {
	Agent     AgentConfig
	Database  DatabaseConfig
	Formance  FormanceConfig
	Chain     ChainConfig
	Signer    SignerConfig
	Redis     RedisConfig
	Messaging MessagingConfig
	Watcher   WatcherConfig
	RateLimit RateLimitConfig
}

// AgentConfig holds the top level agent settings
type AgentConfig struct {
	InboxId       string        `validate:"required"`
	LedgerBackend string        `validate:"oneof=memory sqlite formance"`
	DepositWindow time.Duration `validate:"gt=0"`
	PricingFile   string
	ExplorerURL   string `validate:"required,url"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// ChainConfig holds Base JSON-RPC settings
type ChainConfig struct {
	RPCURL              string        `validate:"required,url"`
	RegistrarController string        `validate:"required,eth_addr"`
	RequestTimeout      time.Duration `validate:"gt=0"`
}

// SignerConfig holds the chain-signature sidecar settings
type SignerConfig struct {
	BaseURL string        `validate:"required,url"`
	Chain   string        `validate:"required"`
	Timeout time.Duration `validate:"gt=0"`
}

// RedisConfig holds the Redis connection used by messaging and rate limiting
type RedisConfig struct {
	URL string `validate:"required"`
}

// MessagingConfig holds the stream names of the chat bridge
type MessagingConfig struct {
	InboundStream  string `validate:"required"`
	OutboundStream string `validate:"required"`
	ConsumerGroup  string `validate:"required"`
	ConsumerName   string
	BlockTimeout   time.Duration
}

// WatcherConfig holds payment watcher settings
type WatcherConfig struct {
	PollInterval        time.Duration `validate:"gt=0"`
	MaxBackoff          time.Duration `validate:"gtefield=PollInterval"`
	PayerLookbackBlocks int           `validate:"gte=1"`
}

// RateLimitConfig holds inbound rate limit settings
type RateLimitConfig struct {
	Backend string        `validate:"oneof=memory redis"`
	Window  time.Duration `validate:"gt=0"`
}
