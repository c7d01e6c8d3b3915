package sandbox

import (
	"archive/tar"
	"io"
	"testing"
)

func TestBuildTarStripsLeadingSlashAndPreservesContent(t *testing.T) {
	buf, err := buildTar(map[string][]byte{
		"/src/Vault.sol": []byte("contract Vault {}"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := tar.NewReader(buf)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("unexpected error reading tar entry: %v", err)
	}
	if hdr.Name != "src/Vault.sol" {
		t.Fatalf("expected leading slash stripped, got %q", hdr.Name)
	}
	content, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(content) != "contract Vault {}" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestBuildTarEmptyFileSetProducesValidEmptyArchive(t *testing.T) {
	buf, err := buildTar(map[string][]byte{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := tar.NewReader(buf)
	if _, err := tr.Next(); err != io.EOF {
		t.Fatalf("expected EOF for empty archive, got %v", err)
	}
}
