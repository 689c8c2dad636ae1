package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeEnvelope serializes the envelope and writes it crash-atomically:
// the document lands in a temporary file in the destination directory
// and is renamed into place, never written in place. A crash leaves
// either the old destination or the new one, not a torn file.
func writeEnvelope(env *Envelope, path string) (int64, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create archive directory %s: %w", dir, err)
		}
	}

	doc, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("serialize archive: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename temp file into place: %w", err)
	}
	return int64(len(doc)), nil
}

// readEnvelope loads and validates a snapshot document.
func readEnvelope(path string) (*Envelope, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive file: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("parse archive file: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: found %q, expected %q", ErrSchemaVersion, env.SchemaVersion, SchemaVersion)
	}
	return &env, nil
}
