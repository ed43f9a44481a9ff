// pkg/model/record.go
package model

// Record is one row of a table keyed by column name.
// Records are never mutated in place; every stage derives a new one.
type Record map[string]interface{}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Without returns a copy of the record minus the given columns
func (r Record) Without(columns ...string) Record {
	out := r.Clone()
	for _, c := range columns {
		delete(out, c)
	}
	return out
}

// Keys returns the record's column names in no particular order
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// StoredRecord is a record read back from a durable table together with
// its append offset.
type StoredRecord struct {
	Seq    int64
	Record Record
}

// QuarantinedRecord is a record that failed at least one expectation
type QuarantinedRecord struct {
	Record Record
	Failed FailedExpectationSet
}

// Row returns the record with its failed expectations encoded into the
// failed_expectations column, the form quarantine and redacted tables store.
func (q QuarantinedRecord) Row() (Record, error) {
	encoded, err := q.Failed.Encode()
	if err != nil {
		return nil, err
	}
	row := q.Record.Clone()
	row[FailedExpectationsColumn] = encoded
	return row, nil
}

// SplitRow separates a stored quarantine or redacted row into the record and
// its decoded failed expectations.
func SplitRow(row Record) (QuarantinedRecord, error) {
	failed, err := DecodeFailedExpectations(row[FailedExpectationsColumn])
	if err != nil {
		return QuarantinedRecord{}, err
	}
	return QuarantinedRecord{
		Record: row.Without(FailedExpectationsColumn),
		Failed: failed,
	}, nil
}
