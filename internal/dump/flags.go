package dump

// Network tuning applied to every dump
var networkFlags = []string{
	"--quick",
	"--max-allowed-packet=1G",
	"--net-buffer-length=32768",
}

// FlagOptions carries the run-wide settings that affect dump flags
type FlagOptions struct {
	SSL       bool
	ExtraArgs []string
}

// BuildFlags resolves the dump flags for a strategy. The result is computed
// once per phase and shared read-only by its tasks.
func BuildFlags(strategy Strategy, opts FlagOptions) []string {
	flags := make([]string, 0, len(networkFlags)+len(opts.ExtraArgs)+3)

	switch strategy {
	case StrategyLocking:
		flags = append(flags, "--lock-tables")
	default:
		flags = append(flags, "--single-transaction", "--skip-lock-tables")
	}

	flags = append(flags, networkFlags...)
	if !opts.SSL {
		flags = append(flags, "--ssl=0")
	}
	return append(flags, opts.ExtraArgs...)
}
