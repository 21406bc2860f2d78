// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// GENERATION PARAMETERS
// =============================================================================

// Features toggles optional server-side capabilities for a request.
type Features struct {
	Search    bool `json:"search" toml:"search" yaml:"search"`
	Knowledge bool `json:"knowledge" toml:"knowledge" yaml:"knowledge"`
	Tools     bool `json:"tools" toml:"tools" yaml:"tools"`
	Reasoning bool `json:"reasoning" toml:"reasoning" yaml:"reasoning"`
	Voice     bool `json:"voice" toml:"voice" yaml:"voice"`
	Planning  bool `json:"planning" toml:"planning" yaml:"planning"`
}

// GenerationParams are the per-conversation sampling settings.
type GenerationParams struct {
	Temperature  float64  `json:"temperature" toml:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	TopP         float64  `json:"top_p" toml:"top_p" yaml:"top_p" validate:"gte=0,lte=1"`
	MaxTokens    int      `json:"max_tokens" toml:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	MaxHistory   int      `json:"max_history" toml:"max_history" yaml:"max_history" validate:"gte=0,lte=1000"`
	SystemPrompt string   `json:"system_prompt,omitempty" toml:"system_prompt" yaml:"system_prompt,omitempty"`
	CanvasID     string   `json:"canvas_id,omitempty" toml:"-" yaml:"canvas_id,omitempty"`
	Features     Features `json:"features" toml:"features" yaml:"features"`
}

// DefaultParams returns the parameters used for new conversations.
func DefaultParams() GenerationParams {
	return GenerationParams{
		Temperature: 0.7,
		TopP:        1.0,
		MaxTokens:   0,
		MaxHistory:  20,
	}
}

// ErrInvalidParams wraps every parameter validation failure.
var ErrInvalidParams = errors.New("invalid generation params")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the parameter ranges.
func (p GenerationParams) Validate() error {
	if err := Validator().Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(parts, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}
