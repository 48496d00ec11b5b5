package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const previewRunes = 200

type ReadFileInput struct {
	Path string `json:"path" jsonschema_description:"Path of the file to read."`
}

// ReadFileTool returns a short preview of a text file.
type ReadFileTool struct {
	root string
}

// NewReadFileTool resolves relative paths against root ("" means the
// working directory).
func NewReadFileTool(root string) *ReadFileTool {
	return &ReadFileTool{root: root}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file and return the first 200 characters together with its total length."
}

func (t *ReadFileTool) Parameters() map[string]any { return GenerateSchema[ReadFileInput]() }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	in, err := DecodeArgs[ReadFileInput](args)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Path) == "" {
		return "", fmt.Errorf("missing string parameter 'path'")
	}

	path := in.Path
	if t.root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	content := []rune(string(data))
	preview := content
	suffix := ""
	if len(content) > previewRunes {
		preview = content[:previewRunes]
		suffix = "..."
	}
	return fmt.Sprintf("File %s (%d characters):\n%s%s", in.Path, len(content), string(preview), suffix), nil
}
