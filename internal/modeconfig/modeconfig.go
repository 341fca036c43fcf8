// Package modeconfig loads ModeDescriptor records from a directory of
// TOML/JSON/YAML files, one mode per file, validates each against a JSON
// Schema, and watches the directory for changes.
package modeconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

// ErrEmptyModeList is returned when a directory yields zero valid
// descriptors; the daemon treats this as fatal.
var ErrEmptyModeList = errors.New("modeconfig: resulting mode list is empty")

var compiledSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("descriptor.json", strings.NewReader(descriptorSchema)); err != nil {
		panic(err)
	}
	s, err := c.Compile("descriptor.json")
	if err != nil {
		panic(err)
	}
	return s
}()

// LoadDir reads every mode descriptor file directly under dir, validates
// it, and returns a mode.List of the survivors. A file that fails to
// parse or validate is dropped with a logged warning, not fatal; an
// overall empty result is ErrEmptyModeList.
func LoadDir(dir string, log *logging.Logger) (*mode.List, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("modeconfig: read dir %s: %w", dir, err)
	}

	var descriptors []*mode.Descriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".toml" && ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		d, err := loadDescriptorFile(path)
		if err != nil {
			log.Warn("dropping invalid mode descriptor", "file", path, "error", err)
			continue
		}
		descriptors = append(descriptors, d)
	}

	if len(descriptors) == 0 {
		return nil, ErrEmptyModeList
	}
	return mode.NewList(descriptors), nil
}

func loadDescriptorFile(path string) (*mode.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var d mode.Descriptor
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &d); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
		pairs, err := decodeTOMLExtraSysfs(data)
		if err != nil {
			return nil, fmt.Errorf("decode toml android_extra_sysfs: %w", err)
		}
		d.AndroidExtraSysfs = pairs
	case ".json":
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}

	if err := validateDescriptor(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// extraSysfsAux mirrors the flattened android_extra_sysfs_N_path/_value
// TOML keys (N = 1..4) that a mode.Descriptor's AndroidExtraSysfs field
// cannot be decoded from directly, since BurntSushi/toml has no way to
// collect a numbered key series into a slice field via struct tags alone.
type extraSysfsAux struct {
	Path1  string `toml:"android_extra_sysfs_1_path"`
	Value1 string `toml:"android_extra_sysfs_1_value"`
	Path2  string `toml:"android_extra_sysfs_2_path"`
	Value2 string `toml:"android_extra_sysfs_2_value"`
	Path3  string `toml:"android_extra_sysfs_3_path"`
	Value3 string `toml:"android_extra_sysfs_3_value"`
	Path4  string `toml:"android_extra_sysfs_4_path"`
	Value4 string `toml:"android_extra_sysfs_4_value"`
}

// decodeTOMLExtraSysfs runs a second decode pass over the same TOML
// document to collect the flattened android_extra_sysfs_N_path/_value
// pairs into the ordered slice mode.Descriptor.AndroidExtraSysfs expects.
// A pair is included only when its path is set; gaps in the N sequence
// are allowed (e.g. only _1_ and _3_ set).
func decodeTOMLExtraSysfs(data []byte) ([]mode.SysfsPair, error) {
	var aux extraSysfsAux
	if _, err := toml.Decode(string(data), &aux); err != nil {
		return nil, err
	}
	var pairs []mode.SysfsPair
	for _, p := range []struct{ path, value string }{
		{aux.Path1, aux.Value1},
		{aux.Path2, aux.Value2},
		{aux.Path3, aux.Value3},
		{aux.Path4, aux.Value4},
	} {
		if p.path == "" {
			continue
		}
		pairs = append(pairs, mode.SysfsPair{Path: p.path, Value: p.value})
	}
	return pairs, nil
}

// validateDescriptor re-marshals d to JSON and runs it through the
// compiled schema; the struct is the source of truth for decoding, the
// schema is the gate that admits or rejects it.
func validateDescriptor(d *mode.Descriptor) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal for validation: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal for validation: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if d.Name == "" {
		return fmt.Errorf("empty mode name")
	}
	return nil
}

// Watcher reloads the mode list from dir on fsnotify-observed changes,
// debounced, and invokes onReload with the fresh list. It never mutates
// the daemon's live ModeList directly; the daemon decides when it is safe
// to swap it in (never while external == busy).
type Watcher struct {
	dir      string
	log      *logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	onReload []func(*mode.List)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewWatcher constructs a Watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, debounce time.Duration, log *logging.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{dir: dir, log: log, debounce: debounce}
}

// OnReload registers a callback invoked with each successfully reloaded
// mode list.
func (w *Watcher) OnReload(cb func(*mode.List)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, cb)
}

// Start begins watching the directory. It returns after the watcher is
// established; events are handled on an internal goroutine until ctx is
// done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("modeconfig: create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("modeconfig: watch %s: %w", w.dir, err)
	}
	w.watcher = fw

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	reload := func() {
		list, err := LoadDir(w.dir, w.log)
		if err != nil {
			w.log.Error("mode descriptor reload failed, keeping previous list", "error", err)
			return
		}
		w.mu.Lock()
		cbs := append([]func(*mode.List){}, w.onReload...)
		w.mu.Unlock()
		for _, cb := range cbs {
			cb(list)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("mode descriptor watch error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
