package hashing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSHA256KnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := SHA256([]byte("abc")); got != want {
		t.Errorf("SHA256(abc) = %s, want %s", got, want)
	}
}

func TestSHA256FileMatchesBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	content := []byte("I am a zebra")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File: %v", err)
	}
	if fromFile != SHA256(content) {
		t.Errorf("file hash %s != content hash %s", fromFile, SHA256(content))
	}
}

func TestSHA256FileLargerThanChunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	content := make([]byte, 3*chunkSize+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	fromFile, err := SHA256File(path)
	if err != nil {
		t.Fatal(err)
	}
	if fromFile != SHA256(content) {
		t.Error("chunked file hash disagrees with whole-buffer hash")
	}
}

func TestSHA256FileMissing(t *testing.T) {
	if _, err := SHA256File("/nonexistent/file"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestComputeInputHashOrderIndependent(t *testing.T) {
	a := ComputeInputHash([]string{"x", "y", "z"})
	b := ComputeInputHash([]string{"z", "x", "y"})
	if a != b {
		t.Errorf("input hash depends on order: %s vs %s", a, b)
	}
	c := ComputeInputHash([]string{"x", "y"})
	if a == c {
		t.Error("different inputs produced the same hash")
	}
}

func TestIsHexDigest(t *testing.T) {
	valid := SHA256([]byte("anything"))
	if !IsHexDigest(valid) {
		t.Errorf("%s should be a valid digest", valid)
	}
	for _, bad := range []string{"", "abc", valid[:63], valid + "0", "G" + valid[1:]} {
		if IsHexDigest(bad) {
			t.Errorf("%q should not be a valid digest", bad)
		}
	}
}
