package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/casepilot/internal/config"
	"github.com/lucasnoah/casepilot/internal/convo"
)

// conversationsFile persists conversations between CLI invocations. The
// server and worker keep them in memory only.
var conversationsFile string

func conversationsPath() string {
	if conversationsFile != "" {
		return conversationsFile
	}
	return filepath.Join(config.HomeDir(), "conversations.json")
}

// loadConversations imports the state file into store. A missing file is an
// empty state.
func loadConversations(store *convo.Store, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open conversations: %w", err)
	}
	defer f.Close()

	convs, err := convo.Decode(f, convo.FormatForPath(path))
	if err != nil {
		return err
	}
	for _, c := range convs {
		if err := store.Import(c); err != nil {
			return err
		}
	}
	return nil
}

// saveConversations writes every conversation in store to path atomically.
func saveConversations(store *convo.Store, path string) error {
	var buf bytes.Buffer
	if err := convo.Encode(&buf, exportAll(store, ""), convo.FormatForPath(path)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write conversations: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename conversations: %w", err)
	}
	return nil
}

// exportAll returns full copies of the conversations of projectID (all
// projects when empty), most recently updated first.
func exportAll(store *convo.Store, projectID string) []convo.Conversation {
	summaries := store.List(projectID)
	out := make([]convo.Conversation, 0, len(summaries))
	for _, s := range summaries {
		c, err := store.Export(s.ID)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
