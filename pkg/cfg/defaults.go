package cfg

// Engine defaults applied when neither the schema, the config file, nor
// the CLI provides a value.
const (
	defaultExecutorName = "local"
	defaultExecutorCPUs = 1
)
