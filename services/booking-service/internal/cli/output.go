package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// render печатает значение в формате json или yaml. Для text вызывается text.
func render(w io.Writer, format string, value interface{}, text func(io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	case "yaml":
		data, err := yaml.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "text", "":
		return text(w)
	default:
		return fmt.Errorf("unknown output format %q (text, json, yaml)", format)
	}
}
