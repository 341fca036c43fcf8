package worker

import (
	"context"
	"fmt"
	"os"
)

// FileAttrWriter is the real AttrWriter, writing directly to the absolute
// sysfs path a ModeDescriptor names.
type FileAttrWriter struct{}

func (FileAttrWriter) WriteAttr(ctx context.Context, path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("worker: write %s: %w", path, err)
	}
	return nil
}
