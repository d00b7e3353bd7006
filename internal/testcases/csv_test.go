// File: internal/testcases/csv_test.go
package testcases

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseFullRows(t *testing.T) {
	input := strings.NewReader(`url,description,expectedDropdowns,browser,device,mobileDevice,headless
https://example.test/browse,Browse page,3,chrome,,iphone-x,true
https://example.test/search,Search page,,,pixel-2,,false
`)
	targets, err := parse(zaptest.NewLogger(t), input)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	first := targets[0]
	assert.Equal(t, "https://example.test/browse", first.URL)
	assert.Equal(t, "Browse page", first.Description)
	assert.Equal(t, 3, first.ExpectedDropdowns)
	assert.Equal(t, "chrome", first.Browser)
	assert.Equal(t, "iphone-x", first.MobileDevice)
	require.NotNil(t, first.Headless)
	assert.True(t, *first.Headless)

	second := targets[1]
	assert.Zero(t, second.ExpectedDropdowns)
	assert.Equal(t, "pixel-2", second.Device)
	require.NotNil(t, second.Headless)
	assert.False(t, *second.Headless)
}

func TestParseSkipsBlankAndCommentRows(t *testing.T) {
	input := strings.NewReader(`url,description
# staging environment, currently down
https://example.test/a,first

,description without url
https://example.test/b,second
`)
	targets, err := parse(zaptest.NewLogger(t), input)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "https://example.test/a", targets[0].URL)
	assert.Equal(t, "https://example.test/b", targets[1].URL)
}

func TestParseShortRowsAndBadValues(t *testing.T) {
	input := strings.NewReader(`https://example.test/minimal
https://example.test/odd,desc,not-a-number,,,,maybe
`)
	targets, err := parse(zaptest.NewLogger(t), input)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "https://example.test/minimal", targets[0].URL)
	assert.Empty(t, targets[0].Description)

	// Unparsable numeric and boolean cells are ignored, not fatal.
	assert.Zero(t, targets[1].ExpectedDropdowns)
	assert.Nil(t, targets[1].Headless)
}

func TestLoadCreatesDefaultFileWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testcases.csv")

	targets, err := Load(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	require.Len(t, targets, len(defaultRows))
	assert.Equal(t, defaultRows[0].URL, targets[0].URL)

	// The file now exists with a header and the default rows.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "url,"))
	assert.Contains(t, string(data), defaultRows[0].URL)

	// A second load reads the written file and agrees with the first.
	again, err := Load(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	assert.Equal(t, targets[0].URL, again[0].URL)
	assert.Equal(t, targets[0].ExpectedDropdowns, again[0].ExpectedDropdowns)
}

func TestLoadFallsBackOnEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("url,description\n"), 0o644))

	targets, err := Load(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	require.Len(t, targets, len(defaultRows))
	assert.Equal(t, defaultRows[0].URL, targets[0].URL)
}
