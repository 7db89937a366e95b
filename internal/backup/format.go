package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/nvandessel/skillroute/internal/models"
)

// Backup file formats.
const (
	// FormatV1 is a plain indented JSON document.
	FormatV1 = 1

	// FormatV2 is a one-line JSON header followed by a gzip payload whose
	// SHA-256 is recorded in the header.
	FormatV2 = 2
)

// SchemaVersion identifies the record layout inside a backup.
const SchemaVersion = 1

// BackupFormat is the payload: both ledger collections.
type BackupFormat struct {
	Version       int                   `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	Conversations []models.Conversation `json:"conversations"`
	Feedback      []models.Feedback     `json:"feedback"`
}

// Header is the first line of a V2 file.
type Header struct {
	Version           int               `json:"version"`
	SchemaVersion     int               `json:"schema_version"`
	CreatedAt         time.Time         `json:"created_at"`
	Checksum          string            `json:"checksum"`
	Compressed        bool              `json:"compressed"`
	ConversationCount int               `json:"conversation_count"`
	FeedbackCount     int               `json:"feedback_count"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// WriteOptions adds metadata to a V2 header.
type WriteOptions struct {
	AppVersion string
	Metadata   map[string]string
}

// WriteV2 writes bf to path as header line plus gzip payload, atomically.
func WriteV2(path string, bf *BackupFormat, opts *WriteOptions) error {
	raw, err := json.Marshal(bf)
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	var payload bytes.Buffer
	zw := gzip.NewWriter(&payload)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress backup: %w", err)
	}

	sum := sha256.Sum256(payload.Bytes())
	header := Header{
		Version:           FormatV2,
		SchemaVersion:     SchemaVersion,
		CreatedAt:         bf.CreatedAt,
		Checksum:          hex.EncodeToString(sum[:]),
		Compressed:        true,
		ConversationCount: len(bf.Conversations),
		FeedbackCount:     len(bf.Feedback),
		Metadata:          headerMetadata(opts),
	}
	line, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode backup header: %w", err)
	}

	var out bytes.Buffer
	out.Write(line)
	out.WriteByte('\n')
	out.Write(payload.Bytes())
	return writeAtomic(path, out.Bytes())
}

func headerMetadata(opts *WriteOptions) map[string]string {
	md := map[string]string{
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"schema":   fmt.Sprintf("v%d", SchemaVersion),
	}
	if host, err := os.Hostname(); err == nil {
		md["hostname"] = host
	}
	if opts != nil {
		if opts.AppVersion != "" {
			md["skillroute_version"] = opts.AppVersion
		}
		for k, v := range opts.Metadata {
			md[k] = v
		}
	}
	return md
}

// DetectFormat reports whether path holds a V1 or V2 backup.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to read backup: %w", err)
	}
	var h Header
	if json.Unmarshal(bytes.TrimSpace(line), &h) == nil && h.Version == FormatV2 && h.Checksum != "" {
		return FormatV2, nil
	}
	return FormatV1, nil
}

// ReadV2Header returns the header of a V2 file without reading the payload.
func ReadV2Header(path string) (*Header, error) {
	h, _, err := splitV2(path)
	return h, err
}

// VerifyChecksum checks a V2 file's payload against its header.
func VerifyChecksum(path string) error {
	h, payload, err := splitV2(path)
	if err != nil {
		return err
	}
	return verify(h, payload)
}

// ReadV2 reads and verifies a V2 backup.
func ReadV2(path string) (*BackupFormat, error) {
	h, payload, err := splitV2(path)
	if err != nil {
		return nil, err
	}
	if err := verify(h, payload); err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup: %w", err)
	}
	defer zr.Close()

	var bf BackupFormat
	if err := json.NewDecoder(zr).Decode(&bf); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return &bf, nil
}

// Read loads a backup in either format.
func Read(path string) (*BackupFormat, error) {
	version, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if version == FormatV2 {
		return ReadV2(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	var bf BackupFormat
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return &bf, nil
}

func splitV2(path string) (*Header, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read backup: %w", err)
	}
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, nil, fmt.Errorf("backup %s has no header line", path)
	}
	var h Header
	if err := json.Unmarshal(data[:i], &h); err != nil {
		return nil, nil, fmt.Errorf("failed to decode backup header: %w", err)
	}
	if h.Version != FormatV2 {
		return nil, nil, fmt.Errorf("backup %s is not format v2", path)
	}
	return &h, data[i+1:], nil
}

func verify(h *Header, payload []byte) error {
	sum := sha256.Sum256(payload)
	if got := hex.EncodeToString(sum[:]); got != h.Checksum {
		return fmt.Errorf("backup checksum mismatch: header %s, payload %s", h.Checksum, got)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to set backup permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to finalize backup: %w", err)
	}
	return nil
}
