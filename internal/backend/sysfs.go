package backend

import (
	"os"
	"path/filepath"
)

// readFile and writeFile are indirected through package vars so tests can
// substitute an in-memory root without touching the real filesystem.
var (
	readFile  = os.ReadFile
	writeFile = os.WriteFile
)

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func writeAttr(root, rel, value string) error {
	p := filepath.Join(root, rel)
	if err := writeFile(p, []byte(value), 0644); err != nil {
		return WrapIoFailure("write "+p, err)
	}
	return nil
}

func readAttr(root, rel string) (string, error) {
	p := filepath.Join(root, rel)
	b, err := readFile(p)
	if err != nil {
		return "", WrapIoFailure("read "+p, err)
	}
	return string(b), nil
}
