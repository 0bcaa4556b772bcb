package booking

import (
	"errors"
	"testing"
)

func TestNewEntityIDNormalizes(test *testing.T) {
	test.Parallel()
	entityID, err := NewEntityID("  res-42  ")
	if err != nil {
		test.Fatalf("entity id: %v", err)
	}
	if entityID.String() != "res-42" {
		test.Fatalf("expected trimmed id, got %q", entityID.String())
	}
}

func TestNewEntityIDRejectsEmpty(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "   ", "\t"} {
		if _, err := NewEntityID(raw); !errors.Is(err, ErrInvalidEntityID) {
			test.Fatalf("expected ErrInvalidEntityID for %q, got %v", raw, err)
		}
	}
}

func TestParseLineItemType(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"Reservation", "addon"} {
		parsed, err := ParseLineItemType(raw)
		if err != nil {
			test.Fatalf("parse %q: %v", raw, err)
		}
		if string(parsed) != raw {
			test.Fatalf("expected %q, got %q", raw, parsed)
		}
	}
	if _, err := ParseLineItemType("upsell"); !errors.Is(err, ErrInvalidLineItemType) {
		test.Fatalf("expected ErrInvalidLineItemType, got %v", err)
	}
}
