// Package artifacts writes the file-based run outputs: the normalized NDJSON
// record, the comparison report, the run summary and raw source captures.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// WriteJSON replaces path with the indented JSON encoding of v.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// WriteNDJSON replaces path with one compact JSON object per row. No rows
// produces an empty file.
func WriteNDJSON[T any](path string, rows ...T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode %s row: %w", filepath.Base(path), err)
		}
	}
	return writeAtomic(path, buf.Bytes())
}

// Touch creates an empty file at path unless one already exists.
func Touch(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeAtomic(path, nil)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveRaw stores the page body and parsed record of one source in the raw
// blob store as <name>.html and <name>.json.
func SaveRaw(ctx context.Context, store polla.BlobStore, result polla.SourceResult) error {
	if store == nil {
		return nil
	}
	if _, err := store.PutObject(ctx, result.Name+".html", "text/html; charset=utf-8", bytes.NewReader(result.Raw)); err != nil {
		return fmt.Errorf("store raw html for %s: %w", result.Name, err)
	}
	data, err := json.MarshalIndent(result.Record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal raw record for %s: %w", result.Name, err)
	}
	if _, err := store.PutObject(ctx, result.Name+".json", "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store raw record for %s: %w", result.Name, err)
	}
	return nil
}

// SaveRawJackpot stores an aggregator page and its parsed estimates.
func SaveRawJackpot(ctx context.Context, store polla.BlobStore, record polla.JackpotRecord) error {
	if store == nil {
		return nil
	}
	if len(record.Raw) > 0 {
		if _, err := store.PutObject(ctx, record.Source+".html", "text/html; charset=utf-8", bytes.NewReader(record.Raw)); err != nil {
			return fmt.Errorf("store raw html for %s: %w", record.Source, err)
		}
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal raw record for %s: %w", record.Source, err)
	}
	if _, err := store.PutObject(ctx, record.Source+".json", "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store raw record for %s: %w", record.Source, err)
	}
	return nil
}
