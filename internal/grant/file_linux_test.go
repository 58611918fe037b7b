//go:build linux

package grant

import (
	"os"
	"testing"
)

func TestFileMapperScatteredPages(t *testing.T) {
	dir := t.TempDir()
	m := NewFileMapper(dir)
	defer m.Close()

	f, err := os.Create(m.DomainPath(4))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(8 * PageSize); err != nil {
		t.Fatal(err)
	}
	f.Close()

	r, err := m.MapPages(4, []uint32{3, 2})
	if err != nil {
		t.Fatalf("MapPages: %v", err)
	}
	data := r.Bytes()
	if len(data) != 2*PageSize {
		t.Fatalf("len = %d", len(data))
	}
	data[0] = 0x33
	data[PageSize] = 0x22
	if err := r.Unmap(); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	raw, err := os.ReadFile(m.DomainPath(4))
	if err != nil {
		t.Fatal(err)
	}
	if raw[3*PageSize] != 0x33 || raw[2*PageSize] != 0x22 {
		t.Error("writes did not reach the shared file")
	}
}

func TestFileMapperRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	m := NewFileMapper(dir)
	defer m.Close()

	if err := os.WriteFile(m.DomainPath(1), make([]byte, 2*PageSize), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.MapPages(1, []uint32{1, 2}); err == nil {
		t.Error("expected error for ref past end of file")
	}
	if _, err := m.MapPages(9, []uint32{1}); err == nil {
		t.Error("expected error for unknown domain")
	}
}
