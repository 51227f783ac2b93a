package core

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// sourceTagFile is the hidden marker a user optionally writes, out of band
// from any backup run, at the root of a folder they designate as a photo
// source. The engine only ever reads it during destination validation,
// refusing any candidate destination that already carries one (spec §4.2
// / §4.10 safety invariant: a destination must never itself look like a
// source). The engine itself never writes this marker as a side effect of
// Run (I4); writing one is a one-time, explicit, user-opt-in action taken
// against a source, performed by the out-of-scope UI collaborator.
const sourceTagFile = ".imageintact_source"

// sourceTag is the YAML body of a sourceTagFile.
type sourceTag struct {
	SourceAbsPath string    `yaml:"source_path"`
	TaggedAt      time.Time `yaml:"tagged_at"`
	ToolVersion   string    `yaml:"tool_version"`
}

// HasSourceTag reports whether root carries a source tag, regardless of
// which source wrote it.
func HasSourceTag(fsys afero.Fs, root string) (bool, error) {
	_, err := fsys.Stat(filepath.Join(root, sourceTagFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, wrapIO(root, err)
}

// WriteSourceTag marks root as a designated photo source by writing the
// hidden marker at its top level, so that a later run refuses to treat root
// as a destination. Not called anywhere in the engine's own Run path; it
// exists for the out-of-scope UI collaborator to invoke once, at the
// user's explicit request, against a folder the user has chosen as a
// source (spec §4.10) — never automatically, and never against a
// destination.
func WriteSourceTag(fsys afero.Fs, root, sourceAbsPath, toolVersion string) error {
	tag := sourceTag{SourceAbsPath: sourceAbsPath, TaggedAt: time.Now(), ToolVersion: toolVersion}

	data, err := yaml.Marshal(tag)
	if err != nil {
		return wrapInternal("marshal source tag: " + err.Error())
	}

	path := filepath.Join(root, sourceTagFile)
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return wrapIO(path, err)
	}

	return nil
}

// ReadSourceTag loads and parses an existing source tag, if present.
func ReadSourceTag(fsys afero.Fs, root string) (*sourceTag, error) {
	path := filepath.Join(root, sourceTagFile)

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, wrapIO(path, err)
	}

	var tag sourceTag
	if err := yaml.Unmarshal(data, &tag); err != nil {
		return nil, wrapInternal("unmarshal source tag: " + err.Error())
	}

	return &tag, nil
}
