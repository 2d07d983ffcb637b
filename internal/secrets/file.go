package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileProvider reads a secret from a file, trimming surrounding whitespace.
// This matches how Docker and Kubernetes mount secrets.
type FileProvider struct{}

func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
