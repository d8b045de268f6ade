// Package sqlutil holds helpers for database/sql result sets.
package sqlutil

// Scannable is a single row that can be scanned into destinations.
type Scannable interface {
	Scan(dest ...any) error
}

// Rows is a result set that can be iterated over, such as *sql.Rows.
type Rows interface {
	Close() error
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// ScanRows calls scan for each row and closes r. It returns the first
// error of scan, of the iteration or of closing, in that order.
func ScanRows(r Rows, scan func(row Scannable) error) (err error) {
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()

	for r.Next() {
		if err := scan(r); err != nil {
			return err
		}
	}
	return r.Err()
}

// Collect scans every row of r into a value.
func Collect[T any](r Rows, scan func(row Scannable) (T, error)) ([]T, error) {
	var out []T
	err := ScanRows(r, func(row Scannable) error {
		v, err := scan(row)
		if err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
