package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nvandessel/skillroute/internal/models"
)

func sampleBackup() *BackupFormat {
	score := 4
	text := "nice"
	return &BackupFormat{
		Version:   FormatV2,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		Conversations: []models.Conversation{
			{ID: "conv_1_0", Tool: "codex", Command: "codex 'a'", UserInput: "a", SatisfactionScore: &score, Feedback: &text, FeedbackSource: models.FeedbackManual},
			{ID: "conv_1_1", Tool: "gemini", Command: "gemini 'b'", UserInput: "b"},
		},
		Feedback: []models.Feedback{
			{ID: "f-1", ConversationID: "conv_1_0", Score: 4, Text: text, Source: models.FeedbackManual},
		},
	}
}

func TestDetectFormat_V1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1-backup.json")
	bf := sampleBackup()
	bf.Version = FormatV1
	data, err := json.MarshalIndent(bf, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	version, err := DetectFormat(path)
	if err != nil {
		t.Fatalf("DetectFormat() error = %v", err)
	}
	if version != FormatV1 {
		t.Errorf("DetectFormat() = %d, want %d", version, FormatV1)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(got.Conversations) != 2 {
		t.Errorf("Conversations = %d, want 2", len(got.Conversations))
	}
}

func TestDetectFormat_V2(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2-backup.json.gz")
	if err := WriteV2(path, sampleBackup(), nil); err != nil {
		t.Fatal(err)
	}

	version, err := DetectFormat(path)
	if err != nil {
		t.Fatalf("DetectFormat() error = %v", err)
	}
	if version != FormatV2 {
		t.Errorf("DetectFormat() = %d, want %d", version, FormatV2)
	}
}

func TestWriteV2_ReadV2_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.json.gz")
	original := sampleBackup()

	if err := WriteV2(path, original, nil); err != nil {
		t.Fatalf("WriteV2() error = %v", err)
	}

	restored, err := ReadV2(path)
	if err != nil {
		t.Fatalf("ReadV2() error = %v", err)
	}
	if len(restored.Conversations) != 2 || len(restored.Feedback) != 1 {
		t.Fatalf("restored %d conversations, %d feedback", len(restored.Conversations), len(restored.Feedback))
	}
	if restored.Conversations[0].ID != "conv_1_0" {
		t.Errorf("first conversation = %s, want conv_1_0", restored.Conversations[0].ID)
	}
	if s := restored.Conversations[0].SatisfactionScore; s == nil || *s != 4 {
		t.Errorf("score = %v, want 4", s)
	}
	if restored.Conversations[1].SatisfactionScore != nil {
		t.Error("unscored conversation gained a score")
	}
	if !restored.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", restored.CreatedAt, original.CreatedAt)
	}
}

func TestReadV2_CorruptedChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupted.json.gz")
	if err := WriteV2(path, sampleBackup(), nil); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("CORRUPTED"))
	f.Close()

	if _, err := ReadV2(path); err == nil {
		t.Error("ReadV2() should fail with corrupted checksum")
	}
	if err := VerifyChecksum(path); err == nil {
		t.Error("VerifyChecksum() should fail with tampered file")
	}
}

func TestVerifyChecksum_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valid.json.gz")
	if err := WriteV2(path, sampleBackup(), nil); err != nil {
		t.Fatal(err)
	}
	if err := VerifyChecksum(path); err != nil {
		t.Errorf("VerifyChecksum() error = %v", err)
	}
}

func TestReadV2Header(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header-test.json.gz")
	if err := WriteV2(path, sampleBackup(), nil); err != nil {
		t.Fatal(err)
	}

	header, err := ReadV2Header(path)
	if err != nil {
		t.Fatalf("ReadV2Header() error = %v", err)
	}
	if header.Version != FormatV2 {
		t.Errorf("Version = %d, want %d", header.Version, FormatV2)
	}
	if header.ConversationCount != 2 {
		t.Errorf("ConversationCount = %d, want 2", header.ConversationCount)
	}
	if header.FeedbackCount != 1 {
		t.Errorf("FeedbackCount = %d, want 1", header.FeedbackCount)
	}
	if !header.Compressed {
		t.Error("Compressed = false, want true")
	}
	if header.Checksum == "" {
		t.Error("Checksum is empty")
	}
	if header.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", header.SchemaVersion, SchemaVersion)
	}
}

func TestWriteV2_Metadata(t *testing.T) {
	tests := []struct {
		name        string
		opts        *WriteOptions
		wantVersion string
	}{
		{"with options", &WriteOptions{AppVersion: "1.2.3", Metadata: map[string]string{"custom_key": "custom_value"}}, "1.2.3"},
		{"nil options", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "metadata.json.gz")
			if err := WriteV2(path, sampleBackup(), tt.opts); err != nil {
				t.Fatalf("WriteV2() error = %v", err)
			}
			header, err := ReadV2Header(path)
			if err != nil {
				t.Fatalf("ReadV2Header() error = %v", err)
			}
			if header.Metadata == nil {
				t.Fatal("Metadata is nil")
			}
			if v := header.Metadata["platform"]; v != runtime.GOOS+"/"+runtime.GOARCH {
				t.Errorf("platform = %q", v)
			}
			if header.Metadata["schema"] == "" {
				t.Error("schema is empty")
			}
			v, ok := header.Metadata["skillroute_version"]
			if tt.wantVersion == "" && ok {
				t.Errorf("skillroute_version should be absent, got %q", v)
			}
			if tt.wantVersion != "" && v != tt.wantVersion {
				t.Errorf("skillroute_version = %q, want %q", v, tt.wantVersion)
			}
			if tt.opts != nil && header.Metadata["custom_key"] != "custom_value" {
				t.Error("custom metadata not merged")
			}
		})
	}
}
