package packs

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jotlabs/jot-core/internal/actions"
	"github.com/jotlabs/jot-core/internal/protocol"
)

// Manifest describes a command pack: extra spoken phrases, recognition bias
// vocabulary and phrases to suppress from output.
type Manifest struct {
	Metadata Metadata  `yaml:"metadata"`
	Commands []Command `yaml:"commands,omitempty"`
	Bias     []string  `yaml:"bias,omitempty"`
	Suppress []string  `yaml:"suppress,omitempty"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Command maps one spoken phrase onto an ordered action sequence.
type Command struct {
	Phrase  string       `yaml:"phrase"`
	Actions []PackAction `yaml:"actions"`
}

type PackAction struct {
	Type  string `yaml:"type"`
	Text  string `yaml:"text,omitempty"`
	Count int    `yaml:"count,omitempty"`
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate ensures a manifest contains required fields and only known action
// types.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if len(m.Commands) == 0 && len(m.Bias) == 0 && len(m.Suppress) == 0 {
		return fmt.Errorf("pack declares no commands, bias or suppress entries")
	}
	for i, cmd := range m.Commands {
		if strings.TrimSpace(cmd.Phrase) == "" {
			return fmt.Errorf("commands[%d].phrase is required", i)
		}
		if len(cmd.Actions) == 0 {
			return fmt.Errorf("commands[%d] (%q) declares no actions", i, cmd.Phrase)
		}
		for j, action := range cmd.Actions {
			switch action.Type {
			case protocol.ActionInsert, protocol.ActionSetComposition:
				if action.Text == "" {
					return fmt.Errorf("commands[%d].actions[%d]: %s requires text", i, j, action.Type)
				}
			case protocol.ActionDeleteBackward, protocol.ActionDeleteBackwardWord,
				protocol.ActionDeleteBackwardSentence, protocol.ActionClear,
				protocol.ActionSystemUndo, protocol.ActionSystemRedo:
			default:
				return fmt.Errorf("commands[%d].actions[%d]: unknown action type %q", i, j, action.Type)
			}
		}
	}
	return nil
}

// LoadDir loads and validates every .yaml/.yml manifest in a directory,
// sorted by filename so merge order is stable. A missing directory yields an
// empty set.
func LoadDir(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read packs dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	var manifests []Manifest
	for _, path := range paths {
		m, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("load pack %s: %w", path, err)
		}
		if err := Validate(m); err != nil {
			return nil, fmt.Errorf("pack %s: %w", path, err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Apply merges a manifest into the interpreter. Suppressed phrases register
// as empty action sequences so they vanish from output.
func Apply(m Manifest, in *actions.Interpreter) {
	for _, cmd := range m.Commands {
		seq := make([]protocol.Action, 0, len(cmd.Actions))
		for _, action := range cmd.Actions {
			seq = append(seq, protocol.Action{Type: action.Type, Text: action.Text, Count: action.Count})
		}
		in.AddPhrase(cmd.Phrase, seq)
	}
	for _, phrase := range m.Suppress {
		in.AddPhrase(phrase, nil)
	}
}

// BiasPhrases collects bias vocabulary across manifests, de-duplicated in
// order of first appearance.
func BiasPhrases(manifests []Manifest) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range manifests {
		for _, phrase := range m.Bias {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if _, ok := seen[phrase]; ok {
				continue
			}
			seen[phrase] = struct{}{}
			out = append(out, phrase)
		}
	}
	return out
}
