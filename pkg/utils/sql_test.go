package utils

import "testing"

func TestFormatSQL(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		args     []interface{}
		expected string
	}{
		{
			name:     "no args",
			query:    "SELECT 1",
			args:     nil,
			expected: "SELECT 1",
		},
		{
			name:     "string arg quoted",
			query:    "SELECT * FROM sync_tasks WHERE name = $1",
			args:     []interface{}{"nightly"},
			expected: "SELECT * FROM sync_tasks WHERE name = 'nightly'",
		},
		{
			name:     "quote escaped",
			query:    "SELECT * FROM eh_galleries WHERE title = $1",
			args:     []interface{}{"it's"},
			expected: "SELECT * FROM eh_galleries WHERE title = 'it''s'",
		},
		{
			name:     "numeric and bool args",
			query:    "UPDATE sync_tasks SET progress_pct = $1, status = $2 WHERE id = $3",
			args:     []interface{}{12.5, "running", 7},
			expected: "UPDATE sync_tasks SET progress_pct = 12.5, status = 'running' WHERE id = 7",
		},
		{
			name:     "nil becomes NULL",
			query:    "UPDATE sync_tasks SET error_message = $1",
			args:     []interface{}{nil},
			expected: "UPDATE sync_tasks SET error_message = NULL",
		},
		{
			name:     "whitespace collapsed",
			query:    "SELECT *\n\t\tFROM sync_tasks\n\t\tWHERE id = $1",
			args:     []interface{}{3},
			expected: "SELECT * FROM sync_tasks WHERE id = 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatSQL(tt.query, tt.args...); got != tt.expected {
				t.Errorf("FormatSQL() = %q, want %q", got, tt.expected)
			}
		})
	}
}
