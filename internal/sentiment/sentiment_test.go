package sentiment

import "testing"

func TestAnalyzeFollowUp(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"strong negative with fix", "not working, please fix", 1},
		{"broken", "this is broken", 1},
		{"error mention", "I got an error on line 3", 1},
		{"curly apostrophe", "it doesn’t work", 1},
		{"close but", "almost, but the header is missing", 2},
		{"retry request", "try again with the other file", 2},
		{"wrong without strong words", "that's the wrong directory", 2},
		{"strong positive", "perfect, thank you!", 5},
		{"works", "that works", 5},
		{"mild positive", "great", 4},
		{"helpful", "very helpful", 4},
		{"add parameter", "add a parameter for the output dir", 2},
		{"different tool", "use a different model", 2},
		{"explicit flag", "can you run it with --json", 2},
		{"ok is inconclusive", "ok", 0},
		{"empty", "   ", 0},
		{"question", "what about the other one?", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeFollowUp(tt.text)
			if got.Score != tt.want {
				t.Errorf("AnalyzeFollowUp(%q) = %+v, want score %d", tt.text, got, tt.want)
			}
			if got.Reason == "" {
				t.Error("reason should never be empty")
			}
		})
	}
}

func TestAnalyzeFollowUp_InconclusiveReason(t *testing.T) {
	v := AnalyzeFollowUp("ok")
	if v.Conclusive() || v.Reason != Inconclusive {
		t.Errorf("AnalyzeFollowUp(ok) = %+v, want inconclusive", v)
	}
}

func TestDetectFromFlow(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     int
		wantOK   bool
	}{
		{"one strong negative forces 1", []string{"this is broken", "thanks, perfect now"}, 1, true},
		{"all inconclusive", []string{"ok", "hmm"}, 0, false},
		{"empty", nil, 0, false},
		{"single positive", []string{"great"}, 4, true},
		{"inconclusive ignored", []string{"ok", "perfect, thanks"}, 5, true},
		{"half rounds to even", []string{"great", "perfect, thanks"}, 4, true},
		{"mixed mild", []string{"almost there", "perfect, thanks"}, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFromFlow(tt.messages)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DetectFromFlow(%q) = (%d, %v), want (%d, %v)", tt.messages, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
