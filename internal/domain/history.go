package domain

import "encoding/json"

// HistoryEntry is a borrow history record discriminated by resource kind.
// Implementations are KeyHistoryEntry and BicycleHistoryEntry.
type HistoryEntry interface {
	Kind() Kind
	Record() BorrowRecord
	isHistoryEntry()
}

// KeyHistoryEntry is a classroom key borrow.
type KeyHistoryEntry struct {
	BorrowRecord
	Key KeyInfo
}

func (KeyHistoryEntry) Kind() Kind { return KindKey }
func (e KeyHistoryEntry) Record() BorrowRecord { return e.BorrowRecord }
func (KeyHistoryEntry) isHistoryEntry() {}

// MarshalJSON writes the entry with its "kind" discriminant.
func (e KeyHistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		BorrowRecord
		Key KeyInfo `json:"key"`
	}{KindKey, e.BorrowRecord, e.Key})
}

// BicycleHistoryEntry is a bicycle borrow.
type BicycleHistoryEntry struct {
	BorrowRecord
	Bicycle BicycleInfo
}

func (BicycleHistoryEntry) Kind() Kind { return KindBicycle }
func (e BicycleHistoryEntry) Record() BorrowRecord { return e.BorrowRecord }
func (BicycleHistoryEntry) isHistoryEntry() {}

// MarshalJSON writes the entry with its "kind" discriminant.
func (e BicycleHistoryEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind `json:"kind"`
		BorrowRecord
		Bicycle BicycleInfo `json:"bicycle"`
	}{KindBicycle, e.BorrowRecord, e.Bicycle})
}

// SplitHistory separates entries into key and bicycle lists, preserving order.
func SplitHistory(entries []HistoryEntry) ([]KeyHistoryEntry, []BicycleHistoryEntry) {
	keys := make([]KeyHistoryEntry, 0)
	bikes := make([]BicycleHistoryEntry, 0)
	for _, e := range entries {
		switch v := e.(type) {
		case KeyHistoryEntry:
			keys = append(keys, v)
		case BicycleHistoryEntry:
			bikes = append(bikes, v)
		}
	}
	return keys, bikes
}

// Records flattens entries into their borrow records.
func Records(entries []HistoryEntry) []BorrowRecord {
	out := make([]BorrowRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Record())
	}
	return out
}
