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
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basenames-agent-go/internal/common"
	"basenames-agent-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting Basenames agent",
		zap.String("inbox_id", cfg.Agent.InboxId),
		zap.String("inbound_stream", cfg.Messaging.InboundStream))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	resumed, expired, err := services.Orchestrator.Resume(ctx)
	if err != nil {
		zap.L().Error("Failed to resume pending requests", zap.Error(err))
	} else {
		zap.L().Info("Pending requests recovered",
			zap.Int("resumed", resumed),
			zap.Int("expired", expired))
	}

	bridgeDone := make(chan error, 1)
	go func() {
		bridgeDone <- services.Bridge.Run(ctx, services.Agent)
	}()

	zap.L().Info("Agent running")
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	bridgeRunning := true
	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping agent...")
	case err := <-bridgeDone:
		bridgeRunning = false
		if err != nil && !errors.Is(err, context.Canceled) {
			zap.L().Error("Message bridge stopped", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// the message in flight finishes before tasks are stopped
	if bridgeRunning {
		select {
		case <-bridgeDone:
		case <-shutdownCtx.Done():
		}
	}

	if err := services.Orchestrator.Stop(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
		return
	}
	zap.L().Info("Agent stopped gracefully")
}
