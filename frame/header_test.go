package frame

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountHeaderFields(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		delimiter string
		skip      int
		expected  int
	}{
		{name: "header", content: "id,name,amount\n1,a,2\n", delimiter: ",", expected: 3},
		{name: "quoted delimiter", content: "id,\"last, first\",amount\n", delimiter: ",", expected: 3},
		{name: "semicolon", content: "id;name\n1;a\n", delimiter: ";", expected: 2},
		{name: "tab", content: "id\tname\tamount\n", delimiter: "\t", expected: 3},
		{name: "skipped title", content: "Report,2024\nid,name,amount\n", delimiter: ",", skip: 1, expected: 3},
		{name: "ragged row below", content: "a,b\n1,2,3,4,5\n\"open", delimiter: ",", expected: 2},
		{name: "byte order mark", content: "\xEF\xBB\xBFid,name\n", delimiter: ",", expected: 2},
		{name: "no line break", content: "id,name", delimiter: ",", expected: 2},
		{name: "multi-character delimiter", content: "id||name||amount\n", delimiter: "||", expected: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "data.csv", tt.content)
			count, err := CountHeaderFields(path, tt.delimiter, tt.skip)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, count)
		})
	}
}

func TestCountHeaderFieldsPastTheEnd(t *testing.T) {
	path := writeFile(t, "short.csv", "id,name\n1,a\n")

	_, err := CountHeaderFields(path, ",", 10)
	assert.ErrorIs(t, err, io.EOF)

	_, err = CountHeaderFields(path, ",", 2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCountHeaderFieldsGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv.gz")
	file, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	_, err = gz.Write([]byte("title\nid,name,amount\n1,a,2\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	count, err := CountHeaderFields(path, ",", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestColumnCountLatin1(t *testing.T) {
	path := writeFile(t, "latin.csv", "Jos\xe9;M\xe1laga\nname;city;zip\n")
	count, err := openReader(t).ColumnCount(context.Background(), path,
		ReadOptions{Encoding: "latin-1", Delimiter: ";", SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
