package execute

// Reserved exit codes reported for failures of the runner itself. They can
// collide with a command's own exit status; Kind tells them apart.
const (
	ExitLaunchFailed = 1
	ExitTimedOut     = 2
)

// Kind classifies how a run ended.
type Kind int

const (
	// KindCompleted means the process ran to completion; ExitCode is its own.
	KindCompleted Kind = iota
	// KindLaunchFailed means the executable or working directory was unusable.
	KindLaunchFailed
	// KindTimedOut means the timeout elapsed and the process was killed.
	KindTimedOut
)

func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindLaunchFailed:
		return "launch_failed"
	case KindTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome is the normalized result of running one command.
type Outcome struct {
	Kind     Kind
	ExitCode int
	Lines    []string
	// Err carries the launch error for KindLaunchFailed. It is informational;
	// callers branch on Kind.
	Err error
}

// Succeeded reports whether the command completed with exit status 0.
func (o Outcome) Succeeded() bool {
	return o.Kind == KindCompleted && o.ExitCode == 0
}

func launchFailed(err error) Outcome {
	return Outcome{Kind: KindLaunchFailed, ExitCode: ExitLaunchFailed, Err: err}
}

func timedOut() Outcome {
	return Outcome{Kind: KindTimedOut, ExitCode: ExitTimedOut}
}
