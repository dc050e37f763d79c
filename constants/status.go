package constants

// Stage is the canonical pipeline stage of a job.
type Stage string

// Stable values (store these exact strings in DB and return them to clients).
const (
	StageReceived            Stage = "Received"
	StageTranscoding         Stage = "Transcoding"
	StageTranscribing        Stage = "Transcribing"
	StageSegmenting          Stage = "Segmenting"
	StageGeneratingQuestions Stage = "GeneratingQuestions"
	StageCompleted           Stage = "Completed" // terminal success
	StageFailed              Stage = "Failed"    // terminal failure
	StageCancelled           Stage = "Cancelled" // terminal, user requested
)

// pipelineOrder is the strict order a job walks on success.
var pipelineOrder = []Stage{
	StageReceived,
	StageTranscoding,
	StageTranscribing,
	StageSegmenting,
	StageGeneratingQuestions,
	StageCompleted,
}

// PipelineOrder returns a copy of the success path, first to last.
func PipelineOrder() []Stage {
	return append([]Stage(nil), pipelineOrder...)
}

// Next returns the stage that follows s on success.
func (s Stage) Next() (Stage, bool) {
	for i, st := range pipelineOrder {
		if st == s && i+1 < len(pipelineOrder) {
			return pipelineOrder[i+1], true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// IsWorking reports whether an executor runs in this stage.
func (s Stage) IsWorking() bool {
	switch s {
	case StageTranscoding, StageTranscribing, StageSegmenting, StageGeneratingQuestions:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	switch s {
	case StageReceived, StageTranscoding, StageTranscribing, StageSegmenting,
		StageGeneratingQuestions, StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// VideoStatus is the coarse status shown by the video list ("processing" | "completed" | "error").
func (s Stage) VideoStatus() string {
	switch s {
	case StageCompleted:
		return "completed"
	case StageFailed, StageCancelled:
		return "error"
	default:
		return "processing"
	}
}

// StepName maps a stage onto the short step ids used by the upload UI.
func (s Stage) StepName() string {
	switch s {
	case StageReceived:
		return "upload"
	case StageTranscoding:
		return "transcode"
	case StageTranscribing:
		return "transcribe"
	case StageSegmenting:
		return "segment"
	case StageGeneratingQuestions:
		return "generate"
	case StageCompleted:
		return "completed"
	case StageFailed, StageCancelled:
		return "error"
	default:
		return ""
	}
}
