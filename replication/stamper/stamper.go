package stamper

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/valyala/fasttemplate"
)

// Vars maps placeholder names to their values.
type Vars map[string]any

// LoadStamps reads stamp files and merges them into a single map. Each line
// is "KEY VALUE" with the first space as delimiter. Lines without a space
// are skipped. Later files override earlier ones.
func LoadStamps(files []string) (Vars, error) {
	const errCtx = "loading stamps"

	stamps := make(Vars)

	for _, sf := range files {
		content, err := os.ReadFile(sf) //nolint:gosec // paths from configuration
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, line := range strings.Split(string(content), "\n") {
			key, value, ok := strings.Cut(line, " ")
			if ok {
				stamps[key] = value
			}
		}
	}

	return stamps, nil
}

// Stamp substitutes {{var}} placeholders in format. Unknown variables are
// preserved as-is.
func Stamp(format string, vars Vars) string {
	return fasttemplate.ExecuteStringStd(
		format, "{{", "}}", map[string]any(vars),
	)
}

// Merge returns a new map holding base overridden by each of overrides in
// order.
func Merge(base Vars, overrides ...Vars) Vars {
	out := make(Vars, len(base))
	maps.Copy(out, base)

	for _, o := range overrides {
		maps.Copy(out, o)
	}

	return out
}
