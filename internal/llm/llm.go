// Package llm defines the external LLM collaborator contract (§6): a
// prompt/temperature/max_tokens request in, a structured JSON response per
// worker schema out, tried across a fallback chain of providers where the
// first success wins. Each provider is wrapped in its own sony/gobreaker
// circuit breaker so a provider that has been failing is skipped for a
// cooldown window instead of retried on every call — grounded on
// jordigilh-kubernaut's circuitbreaker.Manager-over-gobreaker.Settings
// pattern (test/integration/notification/suite_test.go).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Request is one completion request to a provider.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	// Schema is the worker-specific JSON shape the response must conform
	// to; providers are expected to honor it via function-calling or a
	// JSON-mode flag. Validation of the raw response against Schema is the
	// caller's responsibility once Complete returns.
	Schema json.RawMessage
}

// Response is a provider's raw structured reply.
type Response struct {
	Provider string
	JSON     json.RawMessage
}

// Provider is a single LLM backend (OpenAI, Anthropic, a local Ollama
// instance, ...). Implementations read their own `<PROVIDER>_API_KEY` env
// var (§6).
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// breakerSettings mirrors jordigilh-kubernaut's integration-test circuit
// breaker configuration: trip after 3 consecutive failures, half-open after
// a cooldown.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// FallbackChain tries each Provider in order, skipping any whose breaker is
// open, until one succeeds.
type FallbackChain struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewFallbackChain wraps each provider in its own circuit breaker.
func NewFallbackChain(providers ...Provider) *FallbackChain {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(breakerSettings(p.Name()))
	}
	return &FallbackChain{providers: providers, breakers: breakers}
}

// Complete tries every provider in order; the first success wins. If every
// provider fails (or is circuit-open), it returns a worker-level error
// aggregating every attempt (§6, §7 "deterministic worker failure").
func (c *FallbackChain) Complete(ctx context.Context, req Request) (Response, error) {
	var errs []error
	for _, p := range c.providers {
		breaker := c.breakers[p.Name()]
		result, err := breaker.Execute(func() (any, error) {
			return p.Complete(ctx, req)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		return result.(Response), nil
	}
	return Response{}, fmt.Errorf("all providers failed: %w", combineErrors(errs))
}

// combineErrors mirrors the teacher's vcs.CombineErrors idiom: single error
// passed through unwrapped, multiple errors joined into one summary.
func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return errors.New("no providers configured")
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "multiple providers failed:"
	for _, err := range errs {
		msg += "\n  - " + err.Error()
	}
	return errors.New(msg)
}
