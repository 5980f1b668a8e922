package excel

// RawRowData represents one data row as header -> trimmed cell text
type RawRowData map[string]string

// TableData represents a complete sheet or CSV file
type TableData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// Has reports whether a column is present
func (d *TableData) Has(column string) bool {
	for _, h := range d.Headers {
		if h == column {
			return true
		}
	}
	return false
}
