// Package indexutil renders schema index descriptions into tabular result
// sets. It is purely presentational; no state or locking is involved.
package indexutil

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes tag indexes from edge indexes.
type Kind int

const (
	KindTag Kind = iota
	KindEdge
)

// Column is one indexed field. Length is the fixed-size prefix for string
// columns; zero means the type has no length component.
type Column struct {
	Name   string
	Type   string
	Length int
}

// Index describes one index over a tag or edge schema.
type Index struct {
	SchemaName string
	Fields     []Column
}

// DataSet is a column-named result table, the shape query results are
// returned in.
type DataSet struct {
	ColNames []string
	Rows     [][]string
}

// ValidateColumns rejects empty column lists and duplicate field names.
func ValidateColumns(fields []string) error {
	if len(fields) == 0 {
		return errors.New("column is empty")
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			return fmt.Errorf("found duplicate column field %q", f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// DescIndex renders the (Field, Type) table for DESCRIBE INDEX.
func DescIndex(item Index) DataSet {
	ds := DataSet{ColNames: []string{"Field", "Type"}}
	for _, col := range item.Fields {
		ds.Rows = append(ds.Rows, []string{col.Name, col.Type})
	}
	return ds
}

// ShowCreateIndex renders the DDL statement that would recreate the index.
func ShowCreateIndex(kind Kind, indexName string, item Index) DataSet {
	var ds DataSet
	var b strings.Builder
	if kind == KindTag {
		ds.ColNames = []string{"Tag Index Name", "Create Tag Index"}
		fmt.Fprintf(&b, "CREATE TAG INDEX `%s` ON `%s` (\n", indexName, item.SchemaName)
	} else {
		ds.ColNames = []string{"Edge Index Name", "Create Edge Index"}
		fmt.Fprintf(&b, "CREATE EDGE INDEX `%s` ON `%s` (\n", indexName, item.SchemaName)
	}

	for i, col := range item.Fields {
		b.WriteString(" `" + col.Name)
		if col.Length > 0 {
			fmt.Fprintf(&b, "(%d)", col.Length)
		}
		b.WriteString("`")
		if i < len(item.Fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	ds.Rows = append(ds.Rows, []string{indexName, b.String()})
	return ds
}
