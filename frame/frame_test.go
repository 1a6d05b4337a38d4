package frame

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCSV = "name,count,price,active,created\n" +
	"alice,1,1.5,true,2024-01-02 10:00:00\n" +
	"bob,2,2.25,false,2024-01-03 11:30:00\n"

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openReader(t *testing.T) *DuckDB {
	t.Helper()
	reader, err := OpenDuckDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })
	return reader
}

func types(table *Table) map[string]DType {
	ret := map[string]DType{}
	for _, c := range table.Columns {
		ret[c.Name] = c.Type
	}
	return ret
}

func TestDescribeWithoutDates(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	table, err := openReader(t).Describe(context.Background(), path, ReadOptions{NRows: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "count", "price", "active", "created"}, table.Names())
	assert.Equal(t, map[string]DType{
		"name":    Object,
		"count":   Int64,
		"price":   Float64,
		"active":  Bool,
		"created": Object,
	}, types(table))
	assert.Equal(t, []string{"name", "active", "created"}, table.NonNumeric())
	assert.Empty(t, table.DateColumns())
}

func TestDescribeExplicitFormat(t *testing.T) {
	path := writeFile(t, "sales.csv", "id;when\n1;02/01/2024 10:00\n2;03/01/2024 11:30\n")
	table, err := openReader(t).Describe(context.Background(), path, ReadOptions{
		Delimiter:   ";",
		DateColumns: []string{"when"},
		DateFormat:  "%d/%m/%Y %H:%M",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]DType{"id": Int64, "when": Datetime}, types(table))
}

func TestDescribeGuessDates(t *testing.T) {
	path := writeFile(t, "sales.csv", salesCSV)
	table, err := openReader(t).Describe(context.Background(), path, ReadOptions{
		NRows:       200,
		DateColumns: []string{"name", "active", "created"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"created"}, table.DateColumns())
	assert.Equal(t, Bool, types(table)["active"])
	assert.Equal(t, Object, types(table)["name"])
}

func TestDescribeSkipRows(t *testing.T) {
	path := writeFile(t, "report.csv", "exported by tool\ngenerated today\nid,value\n1,2\n")
	table, err := openReader(t).Describe(context.Background(), path, ReadOptions{SkipRows: 2, NRows: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "value"}, table.Names())
}

func TestDescribeMissingFile(t *testing.T) {
	_, err := openReader(t).Describe(context.Background(), filepath.Join(t.TempDir(), "none.csv"), ReadOptions{})
	require.Error(t, err)
}

func TestRewrite(t *testing.T) {
	src := writeFile(t, "sales.csv", salesCSV)
	dst := filepath.Join(filepath.Dir(src), "processed_sales.csv")

	table, err := openReader(t).Rewrite(context.Background(), src, dst, ReadOptions{
		DateColumns: []string{"created"},
		DateFormat:  "%Y-%m-%d %H:%M:%S",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"created"}, table.DateColumns())

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"alice"`)
	assert.Contains(t, string(content), `"2024-01-02 10:00:00"`)
}

func TestRewriteDateAsTimestamp(t *testing.T) {
	src := writeFile(t, "days.csv", "day,amount\n2024-01-02,1\n2024-01-03,2\n")
	dst := filepath.Join(filepath.Dir(src), "processed_days.csv")

	_, err := openReader(t).Rewrite(context.Background(), src, dst, ReadOptions{DateColumns: []string{"day"}})
	require.NoError(t, err)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"2024-01-02 00:00:00"`)
}

func TestDescribeLatin1(t *testing.T) {
	path := writeFile(t, "latin.csv", "name,city\nJos\xe9,M\xe1laga\n")
	table, err := openReader(t).Describe(context.Background(), path, ReadOptions{Encoding: "latin-1", NRows: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "city"}, table.Names())
}

func TestTranscode(t *testing.T) {
	src := writeFile(t, "latin.csv", "caf\xe9\n")
	dst := filepath.Join(filepath.Dir(src), "utf8.csv")

	require.NoError(t, Transcode(src, dst, "ISO-8859-1"))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "café\n", string(content))
}

func TestLookupEncoding(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{name: "latin1"},
		{name: "latin-1"},
		{name: "cp1252"},
		{name: "utf-8-sig"},
		{name: "UTF_16"},
		{name: "klingon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LookupEncoding(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.True(t, IsUTF8("UTF-8"))
	assert.True(t, IsUTF8(""))
	assert.False(t, IsUTF8("latin1"))
}

func TestDTypeStrings(t *testing.T) {
	assert.Equal(t, "object", Object.String())
	assert.Equal(t, "int64", Int64.String())
	assert.Equal(t, "float64", Float64.String())
	assert.Equal(t, "bool", Bool.String())
	assert.Equal(t, "datetime64[ns]", Datetime.String())
	assert.Equal(t, Int64, dtypeOf("BIGINT"))
	assert.Equal(t, Float64, dtypeOf("DECIMAL(18,3)"))
	assert.Equal(t, Datetime, dtypeOf("TIMESTAMP WITH TIME ZONE"))
}
