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

package naming

import (
	"context"
	"fmt"

	"basenames-agent-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Registry answers whether a label can still be registered
type Registry interface {
	IsAvailable(ctx context.Context, label string) (bool, error)
}

type Service struct {
	registry Registry
	pricing  *Pricing
}

func NewService(registry Registry, pricing *Pricing) *Service {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Service{registry: registry, pricing: pricing}
}

func (s *Service) QuotePrice(name string) decimal.Decimal {
	return s.pricing.Quote(name)
}

// CheckAvailability asks the registry every time; availability may change before payment.
func (s *Service) CheckAvailability(ctx context.Context, name string) (bool, error) {
	available, err := s.registry.IsAvailable(ctx, Label(name))
	if err != nil {
		return false, fmt.Errorf("availability lookup for %s failed: %w", name, err)
	}

	zap.L().Debug("Checked name availability",
		zap.String("name", name),
		zap.Bool("available", available))
	return available, nil
}

// Check parses raw and quotes it. Invalid names fail with ErrValidation before any registry call.
func (s *Service) Check(ctx context.Context, raw string) (*models.Quote, error) {
	name, err := ParseName(raw)
	if err != nil {
		return nil, err
	}

	available, err := s.CheckAvailability(ctx, name)
	if err != nil {
		return nil, err
	}

	return &models.Quote{
		Name:      name,
		Available: available,
		Price:     s.QuotePrice(name),
	}, nil
}
