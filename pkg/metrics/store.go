package metrics

import "time"

// StoreMetrics observes the persistent suspended session store.
type StoreMetrics interface {
	// RecordOperation records one store call: "save", "delete" or "list".
	RecordOperation(op string, d time.Duration, err error)

	// SetEntries reports the number of persisted entries.
	SetEntries(n int)
}

var newStoreMetrics func() StoreMetrics

// RegisterStoreMetricsConstructor is called by the Prometheus package at
// init time.
func RegisterStoreMetricsConstructor(constructor func() StoreMetrics) {
	newStoreMetrics = constructor
}

// NewStoreMetrics returns the registered implementation or nil.
func NewStoreMetrics() StoreMetrics {
	if !IsEnabled() || newStoreMetrics == nil {
		return nil
	}
	return newStoreMetrics()
}

func RecordStoreOperation(m StoreMetrics, op string, d time.Duration, err error) {
	if m != nil {
		m.RecordOperation(op, d, err)
	}
}

func SetStoreEntries(m StoreMetrics, n int) {
	if m != nil {
		m.SetEntries(n)
	}
}
