package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var spaceRegex = regexp.MustCompile(`\s+`)

// FormatSQL formats a SQL query with placeholders replaced by actual
// values for debugging. PostgreSQL placeholders ($1, $2, ...) become
// their literal values, making the logged query directly executable.
// Newlines and runs of whitespace are collapsed.
func FormatSQL(query string, args ...interface{}) string {
	result := query
	for i, arg := range args {
		placeholder := fmt.Sprintf("$%d", i+1)
		var value string
		switch v := arg.(type) {
		case string:
			value = fmt.Sprintf("'%s'", strings.ReplaceAll(v, "'", "''"))
		case []string:
			quoted := make([]string, len(v))
			for j, s := range v {
				quoted[j] = fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", "''"))
			}
			value = fmt.Sprintf("ARRAY[%s]", strings.Join(quoted, ", "))
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			value = fmt.Sprintf("%v", v)
		case bool:
			if v {
				value = "true"
			} else {
				value = "false"
			}
		case nil:
			value = "NULL"
		default:
			value = fmt.Sprintf("'%v'", v)
		}
		result = strings.Replace(result, placeholder, value, 1)
	}

	return strings.TrimSpace(spaceRegex.ReplaceAllString(result, " "))
}
