package pipeline

import (
	"testing"
	"time"
)

func TestTranscriptPipelineRetryTable(t *testing.T) {
	def := TranscriptPipeline()

	if def.Deadline != 12*time.Hour {
		t.Errorf("deadline = %v, want 12h", def.Deadline)
	}
	if len(def.Stages) != 6 {
		t.Fatalf("got %d stages, want 6", len(def.Stages))
	}

	tests := []struct {
		name         string
		maxAttempts  int
		baseInterval time.Duration
		backoffRate  float64
	}{
		{"extract_audio", 2, 5 * time.Second, 2.0},
		{"diarize", 2, 10 * time.Second, 2.0},
		{"split_by_speaker", 2, 5 * time.Second, 2.0},
		{"transcribe_segments", 3, 5 * time.Second, 2.0},
		{"aggregate_results", 2, 5 * time.Second, 2.0},
		{"llm_analysis", 3, 10 * time.Second, 2.0},
	}

	for i, tt := range tests {
		st := def.Stages[i]
		if st.Name != tt.name {
			t.Errorf("stage %d: name = %q, want %q", i, st.Name, tt.name)
			continue
		}
		policy := st.Retry
		if st.FanOut != nil {
			policy = st.FanOut.Item.Retry
		}
		if policy.MaxAttempts != tt.maxAttempts {
			t.Errorf("%s: max attempts = %d, want %d", tt.name, policy.MaxAttempts, tt.maxAttempts)
		}
		if policy.BaseInterval != tt.baseInterval {
			t.Errorf("%s: base interval = %v, want %v", tt.name, policy.BaseInterval, tt.baseInterval)
		}
		if policy.BackoffRate != tt.backoffRate {
			t.Errorf("%s: backoff rate = %v, want %v", tt.name, policy.BackoffRate, tt.backoffRate)
		}
	}
}

func TestTranscriptPipelineFanOutStage(t *testing.T) {
	def := TranscriptPipeline()

	var fo *FanOut
	for i := range def.Stages {
		if def.Stages[i].FanOut != nil {
			if fo != nil {
				t.Fatal("more than one fan-out stage")
			}
			fo = def.Stages[i].FanOut
		}
	}
	if fo == nil {
		t.Fatal("no fan-out stage in the pipeline")
	}

	if fo.Concurrency != 10 {
		t.Errorf("fan-out concurrency = %d, want 10", fo.Concurrency)
	}
	if fo.ItemsPath != KeySegments {
		t.Errorf("items path = %q, want %q", fo.ItemsPath, KeySegments)
	}
	if fo.ResultKey != KeyResults {
		t.Errorf("result key = %q, want %q", fo.ResultKey, KeyResults)
	}
	if fo.Item.Task != TaskTranscribe {
		t.Errorf("item task = %q, want %q", fo.Item.Task, TaskTranscribe)
	}
}
