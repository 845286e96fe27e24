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

package database

const (
	schemaDepositRequests = `
	-- One row per purchase attempt; retries after a terminal status add a new row
	CREATE TABLE IF NOT EXISTS deposit_requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		derivation_path TEXT NOT NULL DEFAULT '',
		deposit_address TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		expires_at TIMESTAMP,
		status TEXT NOT NULL,
		transaction_hash TEXT NOT NULL DEFAULT '',
		payer_address TEXT NOT NULL DEFAULT '',
		amount_received TEXT NOT NULL DEFAULT '0',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	-- Lookup of the current request of a pair
	CREATE INDEX IF NOT EXISTS idx_deposit_requests_pair ON deposit_requests(requester_id, name, created_at);
	-- Status listing per requester
	CREATE INDEX IF NOT EXISTS idx_deposit_requests_requester ON deposit_requests(requester_id, created_at);
	-- At most one pending request per pair
	CREATE UNIQUE INDEX IF NOT EXISTS idx_deposit_requests_pending
		ON deposit_requests(requester_id, name) WHERE status = 'pending';
	`

	requestColumns = `
		id, requester_id, conversation_id, name, derivation_path, deposit_address,
		price, expires_at, status, transaction_hash, payer_address, amount_received,
		failure_reason, created_at, completed_at, updated_at`

	queryInsertRequest = `
		INSERT INTO deposit_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateRequest = `
		UPDATE deposit_requests
		SET conversation_id = ?, derivation_path = ?, deposit_address = ?, price = ?,
		    expires_at = ?, status = ?, transaction_hash = ?, payer_address = ?,
		    amount_received = ?, failure_reason = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryLatestRequest = `
		SELECT ` + requestColumns + `
		FROM deposit_requests
		WHERE requester_id = ? AND name = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	queryRequestsByRequester = `
		SELECT ` + requestColumns + `
		FROM deposit_requests
		WHERE requester_id = ?
		ORDER BY created_at DESC, rowid DESC`

	queryPendingRequests = `
		SELECT ` + requestColumns + `
		FROM deposit_requests
		WHERE status = 'pending'
		ORDER BY created_at DESC, rowid DESC`
)
