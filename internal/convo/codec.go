package convo

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Encode writes conversations to w as "json" or "yaml".
func Encode(w io.Writer, convs []Conversation, format string) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(convs)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(convs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Decode reads conversations written by Encode.
func Decode(r io.Reader, format string) ([]Conversation, error) {
	var convs []Conversation
	switch strings.ToLower(format) {
	case "", "json":
		if err := json.NewDecoder(r).Decode(&convs); err != nil {
			return nil, fmt.Errorf("decode conversations: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&convs); err != nil {
			return nil, fmt.Errorf("decode conversations: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	return convs, nil
}

// FormatForPath picks an encoding from a file extension.
func FormatForPath(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return "yaml"
	}
	return "json"
}
