package jobqueue

import (
	"github.com/riverqueue/river"

	"github.com/byte4ever/mpbridge/replication/pipeline"
)

// ArgsFor exposes argsFor.
func ArgsFor(step pipeline.Step, id string) river.JobArgs {
	return argsFor(step, id)
}

// WithDefaults exposes Config.withDefaults.
func (c Config) WithDefaults() Config { return c.withDefaults() }
