package approval

import "context"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// PendingItem is one row of the terminal's polling list.
type PendingItem struct {
	RequestID        RequestID
	WalletID         WalletID
	CustomerName     string
	ImageURL         string
	CreatedAtUnixUTC int64
	ElapsedSeconds   int64
	RemainingSeconds int64
}

// ListPending returns the store's open requests of a kind for the terminal
// poll. Rows already past their expiry are filtered out without being
// mutated; the flip happens on the next customer poll or operator action.
func (engine *Engine) ListPending(ctx context.Context, kind Kind, storeID StoreID, operatorID OperatorID) ([]PendingItem, error) {
	var items []PendingItem
	operationError := func() error {
		if _, err := PolicyFor(kind); err != nil {
			return err
		}
		if err := engine.authorizeOperator(ctx, storeID, operatorID); err != nil {
			return err
		}
		requests, err := engine.store.ListPendingRequests(ctx, kind, storeID)
		if err != nil {
			return err
		}
		nowUnixUTC := engine.nowFn()
		items = make([]PendingItem, 0, len(requests))
		for _, request := range requests {
			if request.IsExpiredAt(nowUnixUTC) {
				continue
			}
			customerName, err := engine.directory.WalletName(ctx, request.WalletID)
			if err != nil {
				return err
			}
			elapsed := nowUnixUTC - request.CreatedAtUnixUTC
			if elapsed < 0 {
				elapsed = 0
			}
			items = append(items, PendingItem{
				RequestID:        request.ID,
				WalletID:         request.WalletID,
				CustomerName:     customerName,
				ImageURL:         request.ImageURL,
				CreatedAtUnixUTC: request.CreatedAtUnixUTC,
				ElapsedSeconds:   elapsed,
				RemainingSeconds: request.RemainingSeconds(nowUnixUTC),
			})
		}
		return nil
	}()
	engine.logOperation(ctx, OperationLog{
		Operation: operationListPending,
		Kind:      kind,
		StoreID:   storeID,
		Error:     operationError,
	})
	return items, operationError
}

// History lists the ledger events for a wallet stamp card, newest first.
func (engine *Engine) History(ctx context.Context, walletID WalletID, resourceID ResourceID, beforeUnixUTC int64, limit int) ([]Event, error) {
	var events []Event
	operationError := func() error {
		info, err := engine.directory.ResolveResource(ctx, KindIssuance, resourceID)
		if err != nil {
			return err
		}
		if info.WalletID != walletID {
			return ErrAccessDenied
		}
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
		events, err = engine.store.ListEvents(ctx, resourceID, beforeUnixUTC, limit)
		return err
	}()
	engine.logOperation(ctx, OperationLog{
		Operation: operationHistory,
		WalletID:  walletID,
		Error:     operationError,
	})
	return events, operationError
}

// ExpireOverdue bulk-flips long-stale pending rows to expired. Correctness
// never depends on it; every access path re-checks staleness itself.
func (engine *Engine) ExpireOverdue(ctx context.Context) (int64, error) {
	flipped, operationError := engine.store.ExpireOverdueRequests(ctx, engine.nowFn())
	engine.logOperation(ctx, OperationLog{
		Operation: operationExpireSweep,
		Delta:     flipped,
		Error:     operationError,
	})
	return flipped, operationError
}
