package pipeline

import "time"

// Definition is an ordered stage list with an overall wall-clock deadline.
// The stage graph is fixed at deploy time.
type Definition struct {
	Name     string
	Stages   []Stage
	Deadline time.Duration
}

// SetFanOutConcurrency overrides the concurrency bound of every fan-out
// stage. Values < 1 are ignored.
func (d *Definition) SetFanOutConcurrency(n int) {
	if n < 1 {
		return
	}
	for i := range d.Stages {
		if d.Stages[i].FanOut != nil {
			d.Stages[i].FanOut.Concurrency = n
		}
	}
}

// Task names the transcript pipeline binds in the executor registry.
const (
	TaskExtractAudio     = "extract_audio"
	TaskDiarize          = "diarize"
	TaskSplitBySpeaker   = "split_by_speaker"
	TaskTranscribe       = "transcribe"
	TaskAggregateResults = "aggregate_results"
	TaskLLMAnalysis      = "llm_analysis"
)

// Payload keys the pipeline and its collaborators agree on.
const (
	KeyJobID    = "job_id"
	KeyBucket   = "bucket"
	KeySegments = "segments"
	KeyResults  = "transcripts"
)

// DefaultDeadline is the wall-clock limit for one execution.
const DefaultDeadline = 12 * time.Hour

// DefaultFanOutConcurrency bounds simultaneous transcription calls per execution.
const DefaultFanOutConcurrency = 10

// TranscriptPipeline builds the fixed six-stage transcript pipeline. The
// retry policies are load-bearing: downstream compatibility tests assert the
// exact attempt counts and backoff intervals.
func TranscriptPipeline() Definition {
	return Definition{
		Name: "transcript-pipeline",
		Stages: []Stage{
			{
				Name:  "extract_audio",
				Task:  TaskExtractAudio,
				Retry: RetryPolicy{MaxAttempts: 2, BaseInterval: 5 * time.Second, BackoffRate: 2.0},
			},
			{
				Name:  "diarize",
				Task:  TaskDiarize,
				Retry: RetryPolicy{MaxAttempts: 2, BaseInterval: 10 * time.Second, BackoffRate: 2.0},
			},
			{
				Name:  "split_by_speaker",
				Task:  TaskSplitBySpeaker,
				Retry: RetryPolicy{MaxAttempts: 2, BaseInterval: 5 * time.Second, BackoffRate: 2.0},
			},
			{
				Name: "transcribe_segments",
				FanOut: &FanOut{
					ItemsPath:   KeySegments,
					ContextKeys: []string{KeyJobID, KeyBucket},
					ResultKey:   KeyResults,
					Concurrency: DefaultFanOutConcurrency,
					Item: Stage{
						Name:  "transcribe",
						Task:  TaskTranscribe,
						Retry: RetryPolicy{MaxAttempts: 3, BaseInterval: 5 * time.Second, BackoffRate: 2.0},
					},
				},
			},
			{
				Name:  "aggregate_results",
				Task:  TaskAggregateResults,
				Retry: RetryPolicy{MaxAttempts: 2, BaseInterval: 5 * time.Second, BackoffRate: 2.0},
			},
			{
				Name:  "llm_analysis",
				Task:  TaskLLMAnalysis,
				Retry: RetryPolicy{MaxAttempts: 3, BaseInterval: 10 * time.Second, BackoffRate: 2.0},
			},
		},
		Deadline: DefaultDeadline,
	}
}
