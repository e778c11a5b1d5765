package approval

import "fmt"

// Policy parameterizes the shared engine per call site: how long a pending
// request lives, which ledger event an approval writes, and where the applied
// stamp delta comes from.
type Policy struct {
	kind          Kind
	ttlSeconds    int64
	eventType     EventType
	fixedDelta    int64
	operatorDelta bool
	minDelta      int64
	maxDelta      int64
	requiresImage bool
	eventReason   string
}

const (
	issuanceTTLSeconds   int64 = 120
	redemptionTTLSeconds int64 = 45

	issuanceDelta int64 = 1

	migrationMinDelta int64 = 1
	migrationMaxDelta int64 = 50

	issuanceEventReason   = "terminal approval"
	redemptionEventReason = "reward redeemed"
	migrationEventReason  = "paper stamp migration"
)

var policies = map[Kind]Policy{
	KindIssuance: {
		kind:        KindIssuance,
		ttlSeconds:  issuanceTTLSeconds,
		eventType:   EventIssued,
		fixedDelta:  issuanceDelta,
		eventReason: issuanceEventReason,
	},
	KindRedemption: {
		kind:        KindRedemption,
		ttlSeconds:  redemptionTTLSeconds,
		eventType:   EventRedeemed,
		fixedDelta:  0,
		eventReason: redemptionEventReason,
	},
	// Migration requests are not time-bounded; the single-pending-per-resource
	// constraint gates them instead.
	KindMigration: {
		kind:          KindMigration,
		eventType:     EventMigrated,
		operatorDelta: true,
		minDelta:      migrationMinDelta,
		maxDelta:      migrationMaxDelta,
		requiresImage: true,
		eventReason:   migrationEventReason,
	},
}

// PolicyFor returns the call-site policy for a kind.
func PolicyFor(kind Kind) (Policy, error) {
	policy, ok := policies[kind]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return policy, nil
}

// Kind returns the call site this policy belongs to.
func (policy Policy) Kind() Kind {
	return policy.kind
}

// HasTTL reports whether pending requests of this kind expire at all.
func (policy Policy) HasTTL() bool {
	return policy.ttlSeconds > 0
}

// ExpiresAt computes the expiry instant for a request created now, or zero
// when the kind carries no TTL.
func (policy Policy) ExpiresAt(nowUnixUTC int64) int64 {
	if !policy.HasTTL() {
		return 0
	}
	return nowUnixUTC + policy.ttlSeconds
}

// EventType returns the ledger event type an approval of this kind writes.
func (policy Policy) EventType() EventType {
	return policy.eventType
}

// EventReason returns the ledger reason recorded on approval.
func (policy Policy) EventReason() string {
	return policy.eventReason
}

// RequiresImage reports whether creation must carry an evidence image URL.
func (policy Policy) RequiresImage() bool {
	return policy.requiresImage
}

// ResolveDelta validates the stamp delta applied on approval. Kinds with a
// fixed delta reject any operator-supplied value; kinds with an operator
// delta bound it to the policy range.
func (policy Policy) ResolveDelta(operatorDelta int64) (int64, error) {
	if !policy.operatorDelta {
		if operatorDelta != 0 {
			return 0, fmt.Errorf("%w: %s approvals carry a fixed delta", ErrInvalidDelta, policy.kind)
		}
		return policy.fixedDelta, nil
	}
	if operatorDelta < policy.minDelta || operatorDelta > policy.maxDelta {
		return 0, fmt.Errorf("%w: must be between %d and %d", ErrInvalidDelta, policy.minDelta, policy.maxDelta)
	}
	return operatorDelta, nil
}
