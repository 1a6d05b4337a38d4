package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// disallowedFileNameChars are stripped from staged object names: * and ? are wildcards for the storage CLI,
// - is read as a flag by the shell tools and & is rejected by gsutil.
var disallowedFileNameChars = regexp.MustCompile(`[&*?\-]`)

// columnPunctuation is removed from column names before they are used in a warehouse schema.
const columnPunctuation = "!@/()%,"

// FindFilePathCharacters checks if a string contains illegal file path characters like ".." or the system path separator.
func FindFilePathCharacters(s string) bool {
	return strings.Contains(s, "..") || strings.ContainsRune(s, filepath.Separator)
}

// NeedsSanitizing reports whether the file name contains any of the characters & * ? -
func NeedsSanitizing(fileName string) bool {
	return disallowedFileNameChars.MatchString(fileName)
}

// SanitizeFileName removes the characters & * ? - from a file name.
func SanitizeFileName(fileName string) string {
	return disallowedFileNameChars.ReplaceAllString(fileName, "")
}

// SanitizeColumnName strips the punctuation !@/()%, and folds spaces and hyphens to underscores.
func SanitizeColumnName(column string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(columnPunctuation, r) {
			return -1
		}
		return r
	}, column)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(cleaned)
}
