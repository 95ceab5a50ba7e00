package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

// Payment method references understood by SimulatedProcessor.
const (
	MethodSucceeds    = "pm_card_ok"
	MethodDeclines    = "pm_card_declined"
	MethodNeedsAction = "pm_card_3ds"
	MethodUnavailable = "pm_processor_down"
)

// SimulatedProcessor is an in-process processor for local runs and tests.
// The outcome of Confirm is picked by the payment method reference; any
// unrecognised method succeeds.
type SimulatedProcessor struct {
	mu       sync.Mutex
	intents  map[string]string
	byKey    map[string]string
	confirms map[string]int
	failures int
}

func NewSimulatedProcessor() *SimulatedProcessor {
	return &SimulatedProcessor{
		intents:  make(map[string]string),
		byKey:    make(map[string]string),
		confirms: make(map[string]int),
	}
}

// FailNext makes the next n calls report the processor as unavailable.
func (p *SimulatedProcessor) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *SimulatedProcessor) ConfirmCalls(processorID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirms[processorID]
}

func (p *SimulatedProcessor) unavailable() bool {
	if p.failures > 0 {
		p.failures--
		return true
	}
	return false
}

func (p *SimulatedProcessor) CreateIntent(_ context.Context, req CreateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unavailable() {
		return "", fmt.Errorf("%w: simulated outage", domain.ErrProcessorUnavailable)
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", domain.ErrProcessorRejected)
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return id, nil
	}

	id := "pi_" + uuid.NewString()
	p.intents[id] = StatusRequiresPaymentMethod
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = id
	}
	return id, nil
}

func (p *SimulatedProcessor) Confirm(_ context.Context, processorID, methodRef string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unavailable() || methodRef == MethodUnavailable {
		return Result{}, fmt.Errorf("%w: simulated outage", domain.ErrProcessorUnavailable)
	}

	current, ok := p.intents[processorID]
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown intent %s", domain.ErrProcessorRejected, processorID)
	}
	p.confirms[processorID]++

	if current == StatusSucceeded || current == StatusPaymentFailed {
		return Result{Status: current}, nil
	}

	switch methodRef {
	case MethodDeclines:
		p.intents[processorID] = StatusPaymentFailed
		return Result{Status: StatusPaymentFailed, FailureReason: "card_declined"}, nil
	case MethodNeedsAction:
		p.intents[processorID] = StatusRequiresAction
		return Result{Status: StatusRequiresAction}, nil
	default:
		p.intents[processorID] = StatusSucceeded
		return Result{Status: StatusSucceeded}, nil
	}
}
