package jobqueue

import (
	"github.com/riverqueue/river"

	"github.com/byte4ever/mpbridge/replication/pipeline"
)

// stepArgs is implemented by the args of every step job.
type stepArgs interface {
	river.JobArgs
	requestID() string
	step() pipeline.Step
}

var uniqueByArgs = river.InsertOpts{
	UniqueOpts: river.UniqueOpts{ByArgs: true},
}

// FetchDiffArgs starts a replication by fetching its diff.
type FetchDiffArgs struct {
	RequestID string `json:"request_id"`
}

// Kind implements river.JobArgs.
func (FetchDiffArgs) Kind() string { return string(pipeline.StepFetchDiff) }

// InsertOpts collapses duplicate hand-offs.
func (FetchDiffArgs) InsertOpts() river.InsertOpts { return uniqueByArgs }

func (a FetchDiffArgs) requestID() string { return a.RequestID }
func (FetchDiffArgs) step() pipeline.Step { return pipeline.StepFetchDiff }

// SyncMirrorArgs syncs the target mirror of a request.
type SyncMirrorArgs struct {
	RequestID string `json:"request_id"`
}

// Kind implements river.JobArgs.
func (SyncMirrorArgs) Kind() string { return string(pipeline.StepSyncMirror) }

// InsertOpts collapses duplicate hand-offs.
func (SyncMirrorArgs) InsertOpts() river.InsertOpts { return uniqueByArgs }

func (a SyncMirrorArgs) requestID() string { return a.RequestID }
func (SyncMirrorArgs) step() pipeline.Step { return pipeline.StepSyncMirror }

// MaterializeBranchArgs pushes the request branch.
type MaterializeBranchArgs struct {
	RequestID string `json:"request_id"`
}

// Kind implements river.JobArgs.
func (MaterializeBranchArgs) Kind() string {
	return string(pipeline.StepMaterializeBranch)
}

// InsertOpts collapses duplicate hand-offs.
func (MaterializeBranchArgs) InsertOpts() river.InsertOpts {
	return uniqueByArgs
}

func (a MaterializeBranchArgs) requestID() string { return a.RequestID }
func (MaterializeBranchArgs) step() pipeline.Step {
	return pipeline.StepMaterializeBranch
}

// OpenPullRequestArgs opens the pull request.
type OpenPullRequestArgs struct {
	RequestID string `json:"request_id"`
}

// Kind implements river.JobArgs.
func (OpenPullRequestArgs) Kind() string {
	return string(pipeline.StepOpenPullRequest)
}

// InsertOpts collapses duplicate hand-offs.
func (OpenPullRequestArgs) InsertOpts() river.InsertOpts {
	return uniqueByArgs
}

func (a OpenPullRequestArgs) requestID() string { return a.RequestID }
func (OpenPullRequestArgs) step() pipeline.Step {
	return pipeline.StepOpenPullRequest
}

// CompleteRequestArgs records the final status of a request. Failed
// requests carry the reason.
type CompleteRequestArgs struct {
	RequestID string `json:"request_id"`
	Failed    bool   `json:"failed,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Kind implements river.JobArgs.
func (CompleteRequestArgs) Kind() string {
	return string(pipeline.StepComplete)
}

// InsertOpts collapses duplicate hand-offs.
func (CompleteRequestArgs) InsertOpts() river.InsertOpts {
	return uniqueByArgs
}

// argsFor returns the job args starting step for request id.
func argsFor(step pipeline.Step, id string) river.JobArgs {
	switch step {
	case pipeline.StepFetchDiff:
		return FetchDiffArgs{RequestID: id}
	case pipeline.StepSyncMirror:
		return SyncMirrorArgs{RequestID: id}
	case pipeline.StepMaterializeBranch:
		return MaterializeBranchArgs{RequestID: id}
	case pipeline.StepOpenPullRequest:
		return OpenPullRequestArgs{RequestID: id}
	case pipeline.StepComplete:
		return CompleteRequestArgs{RequestID: id}
	default:
		return nil
	}
}
