package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polla-consensus/internal/polla"
)

func TestWriteNDJSONOverwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "normalized.jsonl")
	require.NoError(t, WriteNDJSON(path, map[string]int{"a": 1}, map[string]int{"b": 2}))
	require.NoError(t, WriteNDJSON(path, map[string]int{"c": 3}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"c\":3}\n", string(data))
}

func TestWriteNDJSONEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, WriteNDJSON[polla.ConsensusRecord](path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSON(path, polla.RunSummary{RunID: "run-1", Publish: true, APIVersion: polla.APIVersion}))

	var got map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got["run_id"])
	assert.Equal(t, true, got["publish"])
	assert.Equal(t, "v1", got["api_version"])
}

func TestTouchKeepsExistingContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("keep\n"), 0o600))
	require.NoError(t, Touch(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep\n", string(data))

	fresh := filepath.Join(t.TempDir(), "fresh.jsonl")
	require.NoError(t, Touch(fresh))
	_, err = os.Stat(fresh)
	require.NoError(t, err)
}

func TestSaveRaw(t *testing.T) {
	t.Parallel()

	store := &recordingStore{objects: map[string]string{}}
	result := polla.SourceResult{
		Name: "t13",
		URL:  "https://example.com/loto",
		Raw:  []byte("<html></html>"),
		Record: polla.SourceRecord{
			SourceName: "t13",
			Categories: map[string]polla.CategoryAmount{"Loto": {PremioCLP: 1}},
		},
	}
	require.NoError(t, SaveRaw(context.Background(), store, result))
	assert.Equal(t, "<html></html>", store.objects["t13.html"])
	assert.True(t, strings.Contains(store.objects["t13.json"], `"premio_clp": 1`))

	require.NoError(t, SaveRaw(context.Background(), nil, result))
}

func TestSaveRawJackpot(t *testing.T) {
	t.Parallel()

	store := &recordingStore{objects: map[string]string{}}
	require.NoError(t, SaveRawJackpot(context.Background(), store, polla.JackpotRecord{
		Source:  "openloto",
		Amounts: map[string]int64{"Loto": 1000},
	}))
	_, hasHTML := store.objects["openloto.html"]
	assert.False(t, hasHTML)
	assert.Contains(t, store.objects["openloto.json"], `"Loto": 1000`)
}

type recordingStore struct {
	objects map[string]string
}

func (s *recordingStore) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", fmt.Errorf("copy: %w", err)
	}
	s.objects[path] = buf.String()
	return "memory://" + path, nil
}
