// Package dispatch runs a list of commands across a fixed pool of workers
// bound to hosts and collects one Result per command.
//
// A run has three phases:
//   - Submit every command to the job queue, assigning indices 0..N-1
//   - Start one worker per configured slot (sum of HostSpec.Workers)
//   - Drain exactly N results, then post exactly one stop notice per worker
//
// Each worker loops: take a job, wait on its host's start throttle, run the
// command, push the result. Results arrive in completion order; consumers
// use Result.Job.Index to correlate them with the submitted commands.
//
// Error handling:
//   - Non-zero exit status → reported in the Result, never an error
//   - Launch failure → KindLaunchFailed, exit code 1
//   - Timeout → KindTimedOut, exit code 2
//   - No workers for a non-empty job list, invalid options, empty commands →
//     returned as errors before any job starts
//
// In-flight jobs are never aborted. Cancelling the run context stops workers
// from taking new jobs and Run returns once the running ones finish.
package dispatch
