package leases

import (
	"context"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// StaticStore serves a fixed set of records held in memory, such as the
// static reservations listed in the service configuration.
type StaticStore struct {
	records map[string]RawRecord
}

var _ Store = &StaticStore{}

// NewStaticStore creates a store from records keyed by hardware address.
// Keys may use any notation net.ParseMAC accepts; they are normalised to the
// upper-case, colon-separated form used for lookups.
func NewStaticStore(records map[string]RawRecord) (*StaticStore, error) {
	store := &StaticStore{
		records: make(map[string]RawRecord, len(records)),
	}
	for hardwareAddress, record := range records {
		key, err := NormalizeHardwareAddress(hardwareAddress)
		if err != nil {
			return nil, err
		}
		if _, exists := store.records[key]; exists {
			return nil, errors.Errorf("duplicate lease for hardware address %s", key)
		}
		store.records[key] = record
	}

	return store, nil
}

// Lookup implements Store.
func (store *StaticStore) Lookup(_ context.Context, hardwareAddress string) (RawRecord, bool, error) {
	record, found := store.records[hardwareAddress]

	return record, found, nil
}

// Close implements Store.
func (store *StaticStore) Close() error {
	return nil
}

// Len is the number of records in the store.
func (store *StaticStore) Len() int {
	return len(store.records)
}

// NormalizeHardwareAddress converts a hardware address to the upper-case,
// colon-separated form used as the lease key.
func NormalizeHardwareAddress(hardwareAddress string) (string, error) {
	parsed, err := net.ParseMAC(hardwareAddress)
	if err != nil {
		return "", errors.Wrapf(err, "invalid hardware address %q", hardwareAddress)
	}

	return strings.ToUpper(parsed.String()), nil
}
