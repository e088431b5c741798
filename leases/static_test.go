package leases

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestStaticStoreNormalizesKeys(t *testing.T) {
	c := qt.New(t)

	store, err := NewStaticStore(map[string]RawRecord{
		"52:54:00:ab:cd:ef": validRawRecord(),
		"00-11-22-33-44-55": {Address: "192.0.2.20"},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(store.Len(), qt.Equals, 2)

	record, found, err := store.Lookup(context.Background(), "52:54:00:AB:CD:EF")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsTrue)
	c.Assert(record, qt.Equals, validRawRecord())

	record, found, _ = store.Lookup(context.Background(), "00:11:22:33:44:55")
	c.Assert(found, qt.IsTrue)
	c.Assert(record.Address, qt.Equals, "192.0.2.20")
}

func TestStaticStoreRejectsBadKeys(t *testing.T) {
	_, err := NewStaticStore(map[string]RawRecord{"not-a-mac": {}})
	qt.Assert(t, err, qt.ErrorMatches, `invalid hardware address "not-a-mac": .*`)

	_, err = NewStaticStore(map[string]RawRecord{
		"52:54:00:ab:cd:ef": {},
		"52:54:00:AB:CD:EF": {},
	})
	qt.Assert(t, err, qt.ErrorMatches, `duplicate lease for hardware address 52:54:00:AB:CD:EF`)
}

func TestNormalizeHardwareAddress(t *testing.T) {
	got, err := NormalizeHardwareAddress("5254.00ab.cdef")
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, got, qt.Equals, "52:54:00:AB:CD:EF")
}
