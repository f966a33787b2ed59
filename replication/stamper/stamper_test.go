package stamper_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/mpbridge/replication/stamper"
)

// writeTemp creates a temporary file with content and
// returns its path.
func writeTemp(
	tb testing.TB,
	dir string,
	name string,
	content string,
) string {
	tb.Helper()

	pa := filepath.Join(dir, name)
	require.NoError(
		tb,
		os.WriteFile(pa, []byte(content), 0o600),
	)

	return pa
}

func TestStamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format string
		vars   stamper.Vars
		want   string
	}{
		{
			name:   "substitutes",
			format: "Launchpad MP {{merge_proposal_id}}",
			vars:   stamper.Vars{"merge_proposal_id": "42"},
			want:   "Launchpad MP 42",
		},
		{
			name:   "unknown preserved",
			format: "no {{such_var}} here",
			want:   "no {{such_var}} here",
		},
		{
			name:   "single braces untouched",
			format: "{request_id}",
			vars:   stamper.Vars{"request_id": "r"},
			want:   "{request_id}",
		},
		{
			name:   "empty",
			format: "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, stamper.Stamp(tt.format, tt.vars))
		})
	}
}

func TestLoadStamps_later_file_overrides_earlier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sf1 := writeTemp(t, dir, "s1.txt", "VER 1.0\nTEAM core\n")
	sf2 := writeTemp(t, dir, "s2.txt", "VER 2.0\nbogus\n")

	stamps, err := stamper.LoadStamps([]string{sf1, sf2})

	require.NoError(t, err)
	assert.Equal(
		t,
		stamper.Vars{"VER": "2.0", "TEAM": "core"},
		stamps,
	)
}

func TestLoadStamps_missing_file(t *testing.T) {
	t.Parallel()

	_, err := stamper.LoadStamps([]string{"/nonexistent/stamp.txt"})

	assert.ErrorContains(t, err, "loading stamps")
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := stamper.Vars{"a": "1", "b": "2"}
	got := stamper.Merge(base, stamper.Vars{"b": "3"}, stamper.Vars{"c": "4"})

	assert.Equal(t, stamper.Vars{"a": "1", "b": "3", "c": "4"}, got)
	assert.Equal(t, "2", base["b"])
}
