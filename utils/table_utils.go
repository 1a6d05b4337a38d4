package utils

import (
	"fmt"
	"strings"
)

// FullTableName joins a dataset and a table into the "dataset.table" reference expected by the bq tool.
func FullTableName(dataset string, table string) string {
	if dataset == "" {
		return table
	}
	return dataset + "." + table
}

// ValidateTableReference checks a dataset or table name given by the operator.
// Names must be non-empty and must not contain whitespace or a "." (the two parts are joined by the loader).
func ValidateTableReference(kind string, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s name must not be empty", kind)
	}
	if strings.ContainsAny(name, " \t\n.") {
		return fmt.Errorf("%s name %q must not contain whitespace or '.'", kind, name)
	}
	return nil
}

// ObjectURL builds the gs:// URL of a staged object.
func ObjectURL(bucket string, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}

// TrimBucketName removes leading and trailing slashes and an optional gs:// scheme from a bucket name.
func TrimBucketName(bucket string) string {
	return strings.Trim(strings.TrimPrefix(strings.TrimSpace(bucket), "gs://"), "/")
}
