package eventlog

import "github.com/fako1024/perchscale/pkg/scale"

// Multi writes every record to a primary sink and mirrors it to any number of
// secondary sinks. Only primary errors are returned; mirror errors are logged
type Multi struct {
	primary Sink
	mirrors []Sink
	logger  scale.Logger
}

// NewMulti instantiates a new Multi sink
func NewMulti(primary Sink, logger scale.Logger, mirrors ...Sink) *Multi {
	if logger == nil {
		logger = &scale.NullLogger{}
	}
	return &Multi{
		primary: primary,
		mirrors: mirrors,
		logger:  logger,
	}
}

// Record appends the record to the primary sink, then to all mirrors
func (m *Multi) Record(rec Record) error {
	if err := m.primary.Record(rec); err != nil {
		return err
	}
	for _, s := range m.mirrors {
		if err := s.Record(rec); err != nil {
			m.logger.Warnf("failed to mirror %s event: %s", rec.Kind, err)
		}
	}
	return nil
}

// Flush flushes all sinks
func (m *Multi) Flush() error {
	err := m.primary.Flush()
	for _, s := range m.mirrors {
		if merr := s.Flush(); merr != nil {
			m.logger.Warnf("failed to flush mirror sink: %s", merr)
		}
	}
	return err
}

// Close closes all sinks, mirrors first
func (m *Multi) Close() error {
	for _, s := range m.mirrors {
		if err := s.Close(); err != nil {
			m.logger.Warnf("failed to close mirror sink: %s", err)
		}
	}
	return m.primary.Close()
}
