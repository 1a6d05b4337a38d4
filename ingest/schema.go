package ingest

import (
	"strings"

	"bqupload/frame"
	"bqupload/utils"
)

// warehouseTypes maps the detected column types to the loader's primitive types
var warehouseTypes = map[frame.DType]string{
	frame.Object:   "string",
	frame.Int64:    "integer",
	frame.Float64:  "float",
	frame.Bool:     "boolean",
	frame.Datetime: "timestamp",
}

// Field one column of a schema.
type Field struct {
	Name string
	Type string
}

// Schema the ordered columns sent to the loader.
type Schema []Field

// SchemaOf maps a detected table to a schema with sanitized column names.
func SchemaOf(table *frame.Table) Schema {
	schema := make(Schema, 0, len(table.Columns))
	for _, c := range table.Columns {
		schema = append(schema, Field{Name: utils.SanitizeColumnName(c.Name), Type: warehouseTypes[c.Type]})
	}
	return schema
}

// String serializes the schema as "name:type,name:type".
func (s Schema) String() string {
	parts := make([]string, 0, len(s))
	for _, f := range s {
		parts = append(parts, f.Name+":"+f.Type)
	}
	return strings.Join(parts, ",")
}
