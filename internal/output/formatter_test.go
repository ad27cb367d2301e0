package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

var sample = TableData{
	Headers: []string{"FILE", "BYTES"},
	Rows: [][]string{
		{"main.js", "120"},
		{"dep.js", "40"},
	},
}

func TestFormatter_PrintTable(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewFormatter(FormatTable, &buf).PrintTable(sample))
		assert.Contains(t, buf.String(), "FILE")
		assert.Contains(t, buf.String(), "main.js")
		assert.Contains(t, buf.String(), "40")
	})

	t.Run("no headers", func(t *testing.T) {
		var buf bytes.Buffer
		f := NewFormatter(FormatTable, &buf)
		f.NoHeaders = true
		require.NoError(t, f.PrintTable(sample))
		assert.NotContains(t, buf.String(), "FILE")
		assert.Contains(t, buf.String(), "dep.js")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewFormatter(FormatJSON, &buf).PrintTable(sample))

		var rows []map[string]string
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rows))
		assert.Equal(t, []map[string]string{
			{"FILE": "main.js", "BYTES": "120"},
			{"FILE": "dep.js", "BYTES": "40"},
		}, rows)
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewFormatter(FormatYAML, &buf).PrintTable(sample))

		var rows []map[string]string
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &rows))
		assert.Len(t, rows, 2)
		assert.Equal(t, "dep.js", rows[1]["FILE"])
	})
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
}
