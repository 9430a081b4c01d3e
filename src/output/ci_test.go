package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henn-dt/stevedore/src/publish"
)

func TestWritePublishJUnit(t *testing.T) {
	sum := &publish.Summary{Duration: 42 * time.Second}
	published := &publish.VariantOutcome{Variant: "debug", Status: publish.StatusPublished, BuildDuration: 30 * time.Second}
	failed := &publish.VariantOutcome{Variant: "debug-with-ollama", Status: publish.StatusFailed, Error: `build of variant "debug-with-ollama" failed (exit 1)`}
	cancelled := &publish.VariantOutcome{Variant: "nightly", Status: publish.StatusCancelled}
	sum.Variants = []*publish.VariantOutcome{published, failed, cancelled}

	dir := t.TempDir()
	require.NoError(t, WritePublishJUnit(dir, sum))

	data, err := os.ReadFile(filepath.Join(dir, "publish.xml"))
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `tests="3"`)
	assert.Contains(t, out, `failures="1"`)
	assert.Contains(t, out, `name="debug"`)
	assert.Contains(t, out, "failed (exit 1)")
	assert.Contains(t, out, `<skipped message="cancelled">`)
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short", 48))
	assert.Equal(t, "line one line two", TruncateError("line one\nline two", 48))

	long := strings.Repeat("x", 100)
	got := TruncateError(long, 48)
	assert.Len(t, got, 48)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Microsecond, "<1ms"},
		{250 * time.Millisecond, "250ms"},
		{2500 * time.Millisecond, "2.5s"},
		{90 * time.Second, "1m30.0s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatElapsed(tt.d))
	}
}
