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

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inbound message kinds
const (
	KindMessage      = "message"
	KindConversation = "conversation"
)

// InboundMessage is a chat event delivered by the messaging bridge
type InboundMessage struct {
	Id             string    `json:"id"`
	Kind           string    `json:"kind"`
	SenderInboxId  string    `json:"sender_inbox_id"`
	ConversationId string    `json:"conversation_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
}

// Quote is the availability and price of a name at the time of a check
type Quote struct {
	Name      string          `json:"name"`
	Available bool            `json:"available"`
	Price     decimal.Decimal `json:"price"`
}

// DeriveAddressRequest is sent to the chain-signature sidecar
type DeriveAddressRequest struct {
	Path  string `json:"path"`
	Chain string `json:"chain"`
}

// DeriveAddressResponse is returned by the chain-signature sidecar
type DeriveAddressResponse struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRequest asks the sidecar to register a name paid from a deposit address
type RegisterRequest struct {
	Name           string `json:"name"`
	Recipient      string `json:"recipient"`
	Path           string `json:"path"`
	DepositAddress string `json:"depositAddress"`
}

// RegisterResponse is the sidecar answer to a RegisterRequest
type RegisterResponse struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash,omitempty"`
	Error   string `json:"error,omitempty"`
}
