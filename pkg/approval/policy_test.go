package approval

import (
	"errors"
	"testing"
)

func TestPolicyForKnownKinds(test *testing.T) {
	test.Parallel()
	issuance, err := PolicyFor(KindIssuance)
	if err != nil {
		test.Fatalf("issuance policy: %v", err)
	}
	if !issuance.HasTTL() || issuance.ExpiresAt(100) != 100+issuanceTTLSeconds {
		test.Fatalf("unexpected issuance expiry: %d", issuance.ExpiresAt(100))
	}
	if issuance.EventType() != EventIssued {
		test.Fatalf("unexpected issuance event type: %s", issuance.EventType())
	}

	redemption, err := PolicyFor(KindRedemption)
	if err != nil {
		test.Fatalf("redemption policy: %v", err)
	}
	if redemption.ExpiresAt(100) != 100+redemptionTTLSeconds {
		test.Fatalf("unexpected redemption expiry: %d", redemption.ExpiresAt(100))
	}

	migration, err := PolicyFor(KindMigration)
	if err != nil {
		test.Fatalf("migration policy: %v", err)
	}
	if migration.HasTTL() || migration.ExpiresAt(100) != 0 {
		test.Fatalf("migration must not expire, got %d", migration.ExpiresAt(100))
	}
	if !migration.RequiresImage() {
		test.Fatalf("migration must require an evidence image")
	}

	if _, err := PolicyFor(Kind("refund")); !errors.Is(err, ErrInvalidKind) {
		test.Fatalf(errorMismatchMessage, ErrInvalidKind, err)
	}
}

func TestResolveDeltaFixedKinds(test *testing.T) {
	test.Parallel()
	issuance, _ := PolicyFor(KindIssuance)
	delta, err := issuance.ResolveDelta(0)
	if err != nil || delta != issuanceDelta {
		test.Fatalf("expected fixed delta %d, got %d (%v)", issuanceDelta, delta, err)
	}
	if _, err := issuance.ResolveDelta(2); !errors.Is(err, ErrInvalidDelta) {
		test.Fatalf(errorMismatchMessage, ErrInvalidDelta, err)
	}

	redemption, _ := PolicyFor(KindRedemption)
	delta, err = redemption.ResolveDelta(0)
	if err != nil || delta != 0 {
		test.Fatalf("expected zero redemption delta, got %d (%v)", delta, err)
	}
}

func TestResolveDeltaMigrationRange(test *testing.T) {
	test.Parallel()
	migration, _ := PolicyFor(KindMigration)
	for _, count := range []int64{migrationMinDelta, 25, migrationMaxDelta} {
		delta, err := migration.ResolveDelta(count)
		if err != nil || delta != count {
			test.Fatalf("count %d: got %d (%v)", count, delta, err)
		}
	}
	for _, count := range []int64{0, -1, migrationMaxDelta + 1} {
		if _, err := migration.ResolveDelta(count); !errors.Is(err, ErrInvalidDelta) {
			test.Fatalf("count %d: expected ErrInvalidDelta, got %v", count, err)
		}
	}
}
