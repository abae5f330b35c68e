package eventlog

import "sync"

// MemorySink keeps all records in memory, mostly for testing
type MemorySink struct {
	mu      sync.Mutex
	records []Record

	// RecordErr, if set, is returned by Record (and the record is dropped)
	RecordErr error

	Flushes int
	Closed  bool
}

// Record stores the record
func (m *MemorySink) Record(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.records = append(m.records, rec)
	return nil
}

// Flush counts the flush request
func (m *MemorySink) Flush() error {
	m.mu.Lock()
	m.Flushes++
	m.mu.Unlock()
	return nil
}

// Close marks the sink as closed
func (m *MemorySink) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

// Records returns a copy of all stored records
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Kinds returns the kinds of all stored records, in order
func (m *MemorySink) Kinds() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]Kind, 0, len(m.records))
	for _, r := range m.records {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}
