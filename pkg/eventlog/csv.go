package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// CSVSink writes records as CSV rows, flushing after every record
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
	syncer interface{ Sync() error }
}

// OpenCSV opens (or creates) the CSV file at path in append mode. The header row
// is written only if the file is empty at open time
func OpenCSV(path string) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log `%s`: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat event log `%s`: %w", path, err)
	}

	s, err := NewCSVSink(f, info.Size() == 0)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	s.closer = f
	s.syncer = f

	return s, nil
}

// NewCSVSink instantiates a CSV sink on top of an arbitrary writer
func NewCSVSink(w io.Writer, writeHeader bool) (*CSVSink, error) {
	s := &CSVSink{
		w: csv.NewWriter(w),
	}

	if writeHeader {
		if err := s.write(Header); err != nil {
			return nil, fmt.Errorf("failed to write event log header: %w", err)
		}
	}

	return s, nil
}

// Record appends the record as a single row
func (s *CSVSink) Record(rec Record) error {
	return s.write(rec.Columns())
}

// Flush flushes the CSV writer and syncs the underlying file, if any
func (s *CSVSink) Flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.syncer != nil {
		return s.syncer.Sync()
	}
	return nil
}

// Close flushes and closes the underlying file, if any
func (s *CSVSink) Close() error {
	ferr := s.Flush()
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			return err
		}
	}
	return ferr
}

func (s *CSVSink) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}
