// Package funcmeta loads function registration metadata from YAML
// files on disk, the same function.json-equivalent a worker's function
// directory carries, and converts it to the channel package's
// FunctionMetadata.
package funcmeta

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/fnchannel/pkg/channel"
	"github.com/cuemby/fnchannel/pkg/fnrpc"
	"gopkg.in/yaml.v3"
)

// BindingDocument is one binding entry in a function's YAML descriptor.
type BindingDocument struct {
	Name      string `yaml:"name"`
	Direction string `yaml:"direction"`
	Type      string `yaml:"type"`
	DataType  string `yaml:"dataType,omitempty"`
}

// FunctionDocument is the on-disk shape of one function's metadata.
type FunctionDocument struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec struct {
		EntryPoint               string            `yaml:"entryPoint"`
		ScriptFile               string            `yaml:"scriptFile"`
		IsProxy                  bool              `yaml:"isProxy,omitempty"`
		ManagedDependencyEnabled bool              `yaml:"managedDependencyEnabled,omitempty"`
		Bindings                 []BindingDocument `yaml:"bindings,omitempty"`
	} `yaml:"spec"`
}

// Load reads every function.yaml beneath dir (one subdirectory per
// function, mirroring the worker's own on-disk layout) and returns each
// as channel.FunctionMetadata, function-id derived from the containing
// directory name.
func Load(dir string) ([]*channel.FunctionMetadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("funcmeta: reading %s: %w", dir, err)
	}

	var functions []*channel.FunctionMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		functionDir := filepath.Join(dir, entry.Name())
		descriptorPath := filepath.Join(functionDir, "function.yaml")

		data, err := os.ReadFile(descriptorPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("funcmeta: reading %s: %w", descriptorPath, err)
		}

		var doc FunctionDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("funcmeta: parsing %s: %w", descriptorPath, err)
		}

		fn, err := toFunctionMetadata(entry.Name(), functionDir, &doc)
		if err != nil {
			return nil, fmt.Errorf("funcmeta: %s: %w", descriptorPath, err)
		}
		functions = append(functions, fn)
	}

	return functions, nil
}

func toFunctionMetadata(functionID, functionDir string, doc *FunctionDocument) (*channel.FunctionMetadata, error) {
	name := doc.Metadata.Name
	if name == "" {
		name = functionID
	}
	if doc.Spec.EntryPoint == "" {
		return nil, fmt.Errorf("missing spec.entryPoint")
	}

	bindings := make([]channel.BindingDescriptor, 0, len(doc.Spec.Bindings))
	for _, b := range doc.Spec.Bindings {
		direction, err := parseDirection(b.Direction)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", b.Name, err)
		}
		bindings = append(bindings, channel.BindingDescriptor{
			Name:      b.Name,
			Direction: direction,
			Type:      b.Type,
			DataType:  b.DataType,
		})
	}

	return &channel.FunctionMetadata{
		FunctionID:               functionID,
		Name:                     name,
		EntryPoint:               doc.Spec.EntryPoint,
		ScriptFile:               doc.Spec.ScriptFile,
		Directory:                functionDir,
		IsProxy:                  doc.Spec.IsProxy,
		ManagedDependencyEnabled: doc.Spec.ManagedDependencyEnabled,
		Bindings:                 bindings,
	}, nil
}

func parseDirection(s string) (fnrpc.BindingDirection, error) {
	switch fnrpc.BindingDirection(s) {
	case fnrpc.BindingIn:
		return fnrpc.BindingIn, nil
	case fnrpc.BindingOut:
		return fnrpc.BindingOut, nil
	case fnrpc.BindingInOut:
		return fnrpc.BindingInOut, nil
	default:
		return "", fmt.Errorf("unknown binding direction %q", s)
	}
}
