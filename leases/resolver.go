package leases

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Store is the external lease table, keyed by hardware address.
type Store interface {
	// Lookup returns the record for hardwareAddress (upper-case,
	// colon-separated hex). found is false when there is no such record;
	// that is not an error.
	Lookup(ctx context.Context, hardwareAddress string) (record RawRecord, found bool, err error)

	// Close releases the store.
	Close() error
}

// ErrNotFound is returned by Resolve when the store has no record for the
// hardware address.
var ErrNotFound = errors.New("no lease for hardware address")

// StoreError is returned by Resolve when the store itself failed.
type StoreError struct {
	HardwareAddress string
	Err             error
}

func (err *StoreError) Error() string {
	return fmt.Sprintf("lease store lookup for %s failed: %s", err.HardwareAddress, err.Err)
}

func (err *StoreError) Unwrap() error {
	return err.Err
}

// InvalidRecordError is returned by Resolve when a record exists but one of
// its fields cannot be used.
type InvalidRecordError struct {
	HardwareAddress string
	Record          RawRecord
	Field           string
	Err             error
}

func (err *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid lease entry for %s (field %s: %s)", err.HardwareAddress, err.Field, err.Err)
}

func (err *InvalidRecordError) Unwrap() error {
	return err.Err
}

// LookupOutcome classifies the result of Resolve.
type LookupOutcome int

// Lookup outcomes.
const (
	Found LookupOutcome = iota
	NotFound
	StoreFailure
	InvalidRecord
)

func (outcome LookupOutcome) String() string {
	switch outcome {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case StoreFailure:
		return "store_error"
	case InvalidRecord:
		return "invalid_record"
	default:
		return fmt.Sprintf("LookupOutcome(%d)", int(outcome))
	}
}

// OutcomeOf classifies an error returned by Resolve. Unrecognised errors are
// treated as store failures.
func OutcomeOf(err error) LookupOutcome {
	var invalidRecordError *InvalidRecordError

	switch {
	case err == nil:
		return Found
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.As(err, &invalidRecordError):
		return InvalidRecord
	default:
		return StoreFailure
	}
}

// Resolver validates lease records fetched from a Store.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver reading from store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve fetches and validates the lease for hardwareAddress.
//
// The error, if any, is ErrNotFound, a *StoreError or an *InvalidRecordError;
// see OutcomeOf.
func (resolver *Resolver) Resolve(ctx context.Context, hardwareAddress string) (Record, error) {
	raw, found, err := resolver.store.Lookup(ctx, hardwareAddress)
	if err != nil {
		return Record{}, &StoreError{HardwareAddress: hardwareAddress, Err: err}
	}
	if !found {
		return Record{}, ErrNotFound
	}

	record, invalid := parseRecord(raw)
	if invalid != nil {
		return Record{}, &InvalidRecordError{
			HardwareAddress: hardwareAddress,
			Record:          raw,
			Field:           invalid.Field,
			Err:             invalid.Err,
		}
	}

	return record, nil
}
