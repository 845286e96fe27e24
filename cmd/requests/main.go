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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"basenames-agent-go/internal/common"
	"basenames-agent-go/internal/config"
	"basenames-agent-go/internal/models"

	"go.uber.org/zap"
)

type requestStats struct {
	requesters int
	requests   int
	byStatus   map[string]int
}

func printRequest(req models.DepositRequest, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	detail := common.BoxDetailPrefix(isLast)

	fmt.Printf("%s %-24s: %-20s %s ETH (created: %s)\n",
		symbol,
		req.Name,
		req.Status,
		req.Price.String(),
		req.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("%s    deposit: %s  expires: %s  tx: %s\n",
		detail,
		req.DepositAddress,
		req.ExpiresAt.Format("15:04:05"),
		common.ShortHash(req.TransactionHash))
	if req.FailureReason != "" {
		fmt.Printf("%s    reason: %s\n", detail, req.FailureReason)
	}
}

func printRequester(requesterId string, requests []models.DepositRequest) {
	fmt.Printf("\n┌─ Requester: %s\n", requesterId)
	fmt.Printf("│  Requests: %d\n", len(requests))
	common.PrintBoxSeparator(os.Stdout, 78)
	for i, req := range requests {
		printRequest(req, i == len(requests)-1)
	}
}

func groupByRequester(requests []models.DepositRequest) ([]string, map[string][]models.DepositRequest) {
	grouped := make(map[string][]models.DepositRequest)
	for _, req := range requests {
		grouped[req.RequesterId] = append(grouped[req.RequesterId], req)
	}
	ids := make([]string, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, grouped
}

func generateReport(requests []models.DepositRequest) requestStats {
	stats := requestStats{byStatus: make(map[string]int)}

	ids, grouped := groupByRequester(requests)
	for _, id := range ids {
		stats.requesters++
		printRequester(id, grouped[id])
		for _, req := range grouped[id] {
			stats.requests++
			stats.byStatus[req.Status]++
		}
	}
	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	requesterFlag := flag.String("requester", "", "Show the full history of one requester inbox id (default: all pending requests)")
	flag.Parse()

	logger.Info("Starting request query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Opening request ledger", zap.String("backend", cfg.Agent.LedgerBackend))
	ledger, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer ledger.Close()

	var (
		requests []models.DepositRequest
		title    string
	)
	if *requesterFlag != "" {
		title = "REQUEST HISTORY: " + *requesterFlag
		requests, err = ledger.QueryByRequester(ctx, *requesterFlag)
	} else {
		title = "PENDING REQUEST REPORT"
		requests, err = ledger.ListPending(ctx)
	}
	if err != nil {
		logger.Fatal("Failed to query requests", zap.Error(err))
	}

	common.PrintHeader(os.Stdout, title, common.DefaultWidth)

	stats := generateReport(requests)

	summary := fmt.Sprintf("SUMMARY: %d requests across %d requesters (pending: %d, completed: %d, failed: %d, registration failed: %d)",
		stats.requests, stats.requesters,
		stats.byStatus[models.StatusPending],
		stats.byStatus[models.StatusCompleted],
		stats.byStatus[models.StatusFailed],
		stats.byStatus[models.StatusRegistrationFailed])
	common.PrintFooter(os.Stdout, summary, common.WideWidth)

	logger.Info("Request query completed",
		zap.Int("requesters", stats.requesters),
		zap.Int("requests", stats.requests))
}
