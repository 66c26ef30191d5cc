package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Save writes the conversation as pretty-printed JSON, one file per
// conversation, named after its ID.
func (c *Conversation) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("chat: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("chat: encode conversation: %w", err)
	}
	path := filepath.Join(dir, fileName(c.ID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("chat: write %s: %w", path, err)
	}
	return path, nil
}

// Load reads a conversation previously written by Save.
func Load(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chat: read %s: %w", path, err)
	}
	conv := &Conversation{}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, fmt.Errorf("chat: decode %s: %w", path, err)
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = defaultTitle
	}
	return conv, nil
}

// PurgeOld deletes conversation files untouched for longer than age.
// Housekeeping only; failures on individual files are ignored.
func PurgeOld(dir string, age time.Duration) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("chat: read dir %s: %w", dir, err)
	}
	cutoff := time.Now().Add(-age)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "chat_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

func fileName(id string) string {
	return "chat_" + id + ".json"
}
