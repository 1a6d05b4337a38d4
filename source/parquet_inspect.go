package source

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

// ParquetInfo describes a Parquet file before it is staged.
type ParquetInfo struct {
	// Rows the total number of rows over all row groups
	Rows int64
	// RowGroups the number of row groups
	RowGroups int
	// Columns the top-level field names in schema order
	Columns []string
}

// InspectParquet opens a Parquet file and reads its footer.
// It fails when the file is not a valid Parquet file, so that a broken file is never staged.
func InspectParquet(fileName string) (ParquetInfo, error) {
	osFile, err := os.Open(fileName)
	if err != nil {
		return ParquetInfo{}, fmt.Errorf("failed to open file %s: %w", fileName, err)
	}
	defer func(osFile *os.File) {
		if err := osFile.Close(); err != nil {
			log.Warn("Failed to close file", zap.String("file", fileName), zap.Error(err))
		}
	}(osFile)

	fileStat, err := osFile.Stat()
	if err != nil {
		return ParquetInfo{}, fmt.Errorf("failed to get file info for %s: %w", fileName, err)
	}
	f, err := parquet.OpenFile(osFile, fileStat.Size())
	if err != nil {
		return ParquetInfo{}, fmt.Errorf("failed to open the Parquet file %s: %w", fileName, err)
	}

	info := ParquetInfo{
		Rows:      f.NumRows(),
		RowGroups: len(f.RowGroups()),
	}
	for _, field := range f.Schema().Fields() {
		info.Columns = append(info.Columns, field.Name())
	}
	log.Trace("Parquet schema", zap.String("name", f.Schema().Name()), zap.Strings("columns", info.Columns))
	return info, nil
}
