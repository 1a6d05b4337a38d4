package ingest

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bqupload/archive"
	"bqupload/frame"
	"bqupload/target"
)

func TestSuffixes(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
	}{
		{name: "sales-data.csv", expected: []string{".csv"}},
		{name: "events.json.zip", expected: []string{".json", ".zip"}},
		{name: "sales.CSV.tar.gz", expected: []string{".csv", ".tar", ".gz"}},
		{name: "/data/in/export.avro", expected: []string{".avro"}},
		{name: ".hidden", expected: []string{}},
		{name: "README", expected: []string{}},
		{name: "broken.", expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Suffixes(tt.name))
		})
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "sales.csv.gz")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))
	zipped := filepath.Join(dir, "bundle.zip")
	writeZip(t, zipped, map[string]string{"export/rows.avro": "Obj"})

	c, err := Classify(plain)
	require.NoError(t, err)
	assert.Equal(t, target.FormatCSV, c.Format)
	assert.Equal(t, archive.None, c.Archive)
	assert.Nil(t, c.Member)

	c, err = Classify(zipped)
	require.NoError(t, err)
	assert.Equal(t, archive.Zip, c.Archive)
	assert.Equal(t, "rows.avro", c.Name)
	assert.Equal(t, []string{".avro"}, c.Suffixes)
	assert.Equal(t, target.FormatAvro, c.Format)

	_, err = Classify(filepath.Join(dir, "sales.csv.bz2"))
	assert.True(t, errors.Is(err, ErrUnsupportedCompression))
	assert.Equal(t, KindUsage, KindOf(err))

	assert.Equal(t, target.FormatParquet, formatOf([]string{".parquet"}))
	assert.Equal(t, target.FormatNDJSON, formatOf([]string{".json", ".gz"}))
}

func TestDecide(t *testing.T) {
	csv := Classification{Name: "a.csv", Format: target.FormatCSV}
	zippedCSV := Classification{Name: "a.csv", Format: target.FormatCSV, Archive: archive.Zip}
	json := Classification{Name: "a.json", Format: target.FormatNDJSON, Archive: archive.Tar}

	tests := []struct {
		name     string
		opts     func(*Options)
		c        Classification
		expected Decision
	}{
		{
			name:     "plain csv",
			opts:     func(*Options) {},
			c:        csv,
			expected: Decision{Format: target.FormatCSV},
		},
		{
			name:     "strict schema",
			opts:     func(o *Options) { o.StrictSchema = true },
			c:        csv,
			expected: Decision{Format: target.FormatCSV, NeedsFrame: true, StrictSchema: true},
		},
		{
			name: "guess date",
			opts: func(o *Options) { o.GuessDate = true },
			c:    csv,
			expected: Decision{Format: target.FormatCSV, NeedsFrame: true, StrictSchema: true, Rewrite: true,
				Dates: GuessedDates, Move: true},
		},
		{
			name: "timestamp columns win over guessing",
			opts: func(o *Options) {
				o.GuessDate = true
				o.TimestampColumns = []string{"at"}
				o.TimestampFormat = "%Y"
			},
			c:        csv,
			expected: Decision{Format: target.FormatCSV, NeedsFrame: true, Rewrite: true, Dates: ExplicitDates, Move: true},
		},
		{
			name:     "archive without preprocessing",
			opts:     func(*Options) {},
			c:        zippedCSV,
			expected: Decision{Format: target.FormatCSV, ExtractEagerly: true},
		},
		{
			name:     "archive with preprocessing",
			opts:     func(o *Options) { o.Preprocess = true },
			c:        zippedCSV,
			expected: Decision{Format: target.FormatCSV, NeedsFrame: true, Rewrite: true, Move: true},
		},
		{
			name:     "json ignores preprocessing",
			opts:     func(o *Options) { o.Preprocess = true; o.StrictSchema = true },
			c:        json,
			expected: Decision{Format: target.FormatNDJSON, ExtractEagerly: true, Move: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)
			before := opts
			assert.Equal(t, tt.expected, Decide(opts, tt.c))
			assert.Equal(t, before, opts)
		})
	}
}

func TestSchemaOf(t *testing.T) {
	table := &frame.Table{Columns: []frame.Column{
		{Name: "Customer Name", Type: frame.Object},
		{Name: "order-count", Type: frame.Int64},
		{Name: "price (USD)", Type: frame.Float64},
		{Name: "paid!", Type: frame.Bool},
		{Name: "created@utc", Type: frame.Datetime},
		{Name: "share/%,", Type: frame.Float64},
	}}
	assert.Equal(t, "Customer_Name:string,order_count:integer,price_USD:float,paid:boolean,"+
		"createdutc:timestamp,share:float", SchemaOf(table).String())
	assert.Equal(t, "", UploadPlan{}.SchemaString())
}

func TestReformatJSON(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "array", input: " [ {\"id\": 1, \"tags\": [\"a\"]}, {\"id\": 2} ]", expected: "{\"id\":1,\"tags\":[\"a\"]}\n{\"id\":2}\n"},
		{name: "stream", input: "{\"id\":1}\n{\"id\":2}\n", expected: "{\"id\":1}\n{\"id\":2}\n"},
		{name: "bom", input: "\xEF\xBB\xBF[{\"z\":true,\"a\":null}]", expected: "{\"z\":true,\"a\":null}\n"},
		{name: "large integers", input: `[{"id":9007199254740993,"n":12345678901234567890}]`,
			expected: "{\"id\":9007199254740993,\"n\":12345678901234567890}\n"},
		{name: "number text", input: "{\"price\": 1.50, \"ratio\": 1e-7}", expected: "{\"price\":1.50,\"ratio\":1e-7}\n"},
		{name: "empty array", input: "[]", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := filepath.Join(dir, tt.name+".json")
			dst := filepath.Join(dir, "formatted_json_"+tt.name+".json")
			require.NoError(t, os.WriteFile(src, []byte(tt.input), 0o644))

			_, err := ReformatJSON(src, dst)
			require.NoError(t, err)
			content, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(content))
		})
	}
}

func TestReformatGzipJSON(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "events.json.gz")
	file, err := os.Create(src)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	_, err = gz.Write([]byte(`[{"a":1},{"a":2},{"a":3}]`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	dst := filepath.Join(dir, "formatted_json_events.json.gz")
	count, err := ReformatJSON(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	out, err := os.Open(dst)
	require.NoError(t, err)
	defer func() { _ = out.Close() }()
	reader, err := gzip.NewReader(out)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n", string(content))
}

func TestReformatTruncatedJSON(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "events.json")
	require.NoError(t, os.WriteFile(src, []byte(`[{"a":1},{"a":`), 0o644))

	count, err := ReformatJSON(src, filepath.Join(dir, "formatted_json_events.json"))
	require.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestValidate(t *testing.T) {
	valid := DefaultOptions()
	valid.Path, valid.Bucket, valid.Dataset, valid.Table = "/data/sales.csv", "landing", "raw", "sales"
	require.NoError(t, valid.Validate())

	broken := valid
	broken.LineSkip = 0
	broken.TimestampColumns = []string{"at"}
	broken.Dataset = "raw.sales"
	broken.Encoding = "klingon"
	err := broken.Validate()
	require.Error(t, err)
	assert.Equal(t, KindUsage, KindOf(err))
	assert.True(t, errors.Is(err, ErrIncompleteTimestamp))
	assert.Contains(t, err.Error(), "line skip")
	assert.Contains(t, err.Error(), "dataset")
	assert.Contains(t, err.Error(), "klingon")

	formatOnly := valid
	formatOnly.TimestampFormat = "%Y"
	assert.True(t, errors.Is(formatOnly.Validate(), ErrIncompleteTimestamp))

	reload := Options{Reload: true, MaxBadRecords: 5}
	assert.NoError(t, reload.Validate())
	reload.MaxBadRecords = -1
	assert.Error(t, reload.Validate())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(usageError("op", errors.New("x"), "")))
	assert.Equal(t, 3, ExitCode(externalError("op", errors.New("x"), "")))
	assert.Equal(t, 4, ExitCode(dataError("op", errors.New("x"), "fix it")))
	assert.Equal(t, "fix it", RemedyOf(dataError("op", errors.New("x"), "fix it")))
}
