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

// ZeroAddress is reported as the payer when no paying transaction can be found
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// PaymentResult is the outcome of a successful payment watch
type PaymentResult struct {
	Address      string
	Amount       decimal.Decimal
	PayerAddress string
	Polls        int
	ObservedAt   time.Time
}

// Block is a chain block with the fields needed for payer lookup
type Block struct {
	Number       uint64
	Hash         string
	Transactions []ChainTransaction
}

// ChainTransaction is a transaction inside a Block. To is empty for contract creation.
type ChainTransaction struct {
	Hash  string
	From  string
	To    string
	Value decimal.Decimal
}

// Allocation is a freshly derived deposit address bound to a requester and name
type Allocation struct {
	RequesterId    string
	Name           string
	DerivationPath string
	DepositAddress string
	Price          decimal.Decimal
	ExpiresAt      time.Time
}
