package approval

import "context"

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// OperationLogger records domain-level events emitted by Engine operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing approval operation.
type OperationLog struct {
	Operation      string
	Kind           Kind
	RequestID      RequestID
	WalletID       WalletID
	StoreID        StoreID
	IdempotencyKey IdempotencyKey
	Delta          int64
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithIDGenerator overrides how new request and event ids are minted.
func WithIDGenerator(generate func() string) EngineOption {
	return func(engine *Engine) {
		if generate != nil {
			engine.newID = generate
		}
	}
}
