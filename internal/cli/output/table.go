package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by results that print as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

func plainTable(w io.Writer, sep string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(sep)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable writes data as a borderless table with upper-case headers.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := plainTable(w, "")
	table.SetHeader(data.Headers())
	table.SetAutoFormatHeaders(true)
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// Table is a TableRenderer built row by row.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers, rows: [][]string{}}
}

func (t *Table) AddRow(row ...string) { t.rows = append(t.rows, row) }
func (t *Table) Headers() []string    { return t.headers }
func (t *Table) Rows() [][]string     { return t.rows }

// KeyValues prints "key: value" lines aligned on the separator.
func KeyValues(w io.Writer, pairs [][2]string) error {
	table := plainTable(w, ":")
	table.SetAutoFormatHeaders(false)
	for _, p := range pairs {
		table.Append([]string{p[0], p[1]})
	}
	table.Render()
	return nil
}
