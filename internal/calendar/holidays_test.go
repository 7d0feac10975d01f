package calendar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHolidays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	content := "recurring:\n  - {name: New Year, month: 1, day: 1}\none_time:\n  - {name: Census, date: \"2025-03-04\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holidays, err := LoadHolidays(path)
	require.NoError(t, err)

	actual, _, h := holidays.IsHoliday(date(2031, 1, 1, 12, 0))
	assert.True(t, actual)
	require.NotNil(t, h)
	assert.Equal(t, "New Year", h.Name)

	actual, _, _ = holidays.IsHoliday(date(2025, 3, 4, 12, 0))
	assert.True(t, actual)
	actual, _, _ = holidays.IsHoliday(date(2026, 3, 4, 12, 0))
	assert.False(t, actual)
}

func TestLoadHolidaysEmptyPath(t *testing.T) {
	holidays, err := LoadHolidays("")
	require.NoError(t, err)
	assert.Nil(t, holidays)
}

func TestParseHolidaysRejectsBadEntries(t *testing.T) {
	for name, content := range map[string]string{
		"month out of range": "recurring:\n  - {name: X, month: 13, day: 1}\n",
		"bad date":           "one_time:\n  - {name: X, date: \"03/04/2025\"}\n",
		"not yaml":           "recurring: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHolidays([]byte(content))
			assert.Error(t, err)
		})
	}
}
