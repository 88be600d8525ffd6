package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_LoadLocalText(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bill.txt"), []byte("=== Sheet: Bill 1 ===\nA1\tCable\n"), 0o600))

	src := NewSource(dir, nil)
	doc, err := src.Load(context.Background(), "bill.txt")
	require.NoError(t, err)
	assert.Equal(t, "bill.txt", doc.Name)
	assert.Equal(t, "=== Sheet: Bill 1 ===\nA1\tCable\n", doc.Text)
}

func TestSource_LoadLocalWorkbook(t *testing.T) {
	path := createTestXLSX(t, billSheets)
	src := NewSource(filepath.Dir(path), nil)

	doc, err := src.Load(context.Background(), filepath.Base(path))
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "=== Sheet: Bill 1 - Electrical ===")
}

func TestSource_RejectsEscapes(t *testing.T) {
	src := NewSource(t.TempDir(), nil)

	for _, ref := range []string{"../secret.txt", "a/../../secret.txt", "/etc/passwd"} {
		t.Run(ref, func(t *testing.T) {
			_, err := src.Load(context.Background(), ref)
			require.Error(t, err)
		})
	}
}

func TestSource_EmptyRef(t *testing.T) {
	_, err := NewSource("", nil).Load(context.Background(), "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty document reference")
}

func TestSource_NoDirAllowsAnyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	doc, err := NewSource("", nil).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Text)
}

func TestSource_LoadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("A1\tCable"))
	}))
	defer srv.Close()

	doc, err := NewSource(t.TempDir(), nil).Load(context.Background(), srv.URL+"/docs/bill.txt")
	require.NoError(t, err)
	assert.Equal(t, "bill.txt", doc.Name)
	assert.Equal(t, "A1\tCable", doc.Text)
}

func TestDecode(t *testing.T) {
	_, err := Decode("old.xls", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	_, err = Decode("bin.dat", []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not UTF-8")

	text, err := Decode("plain.csv", []byte("a,b"))
	require.NoError(t, err)
	assert.Equal(t, "a,b", text)
}
