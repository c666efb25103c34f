package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harveysanders/printerlcd/lcd1602/octoprint"
)

// DefaultPrefix is the base topic of the OctoPrint MQTT plugin.
const DefaultPrefix = "octoPrint/"

// Filters returns the topic filters the display subscribes to under prefix.
func Filters(prefix string) []string {
	prefix = normalizePrefix(prefix)
	return []string{
		prefix + "event/+",
		prefix + "progress/printing",
		prefix + "temperature/+",
	}
}

type progressMessage struct {
	Location string  `json:"location"`
	Path     string  `json:"path"`
	Progress float64 `json:"progress"`
}

// Route decodes one message published by the OctoPrint MQTT plugin and
// hands it to h. Topics outside prefix or without a screen are ignored.
func Route(ctx context.Context, h octoprint.Handler, prefix, topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, normalizePrefix(prefix))
	if !ok {
		return nil
	}
	kind, name, _ := strings.Cut(rest, "/")

	switch kind {
	case "event":
		if name == "" {
			return nil
		}
		var fields map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &fields); err != nil {
				return fmt.Errorf("decode %s: %w", topic, err)
			}
		}
		return h.OnEvent(ctx, octoprint.ParseEvent(name, fields))

	case "progress":
		if name != "printing" {
			return nil
		}
		var msg progressMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		return h.OnProgress(ctx, octoprint.Progress{
			Storage: msg.Location,
			Path:    msg.Path,
			Percent: int(msg.Progress),
		})

	case "temperature":
		tool, ok := sampleTool(name)
		if !ok {
			return nil
		}
		var t octoprint.Temperature
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		h.OnTemperature(octoprint.Temperatures{tool: t})
	}
	return nil
}

// sampleTool maps the plugin's heater names ("tool0", "bed") to the keys
// used in serial temperature samples ("T0", "B").
func sampleTool(name string) (string, bool) {
	if n, ok := strings.CutPrefix(name, "tool"); ok && n != "" {
		return "T" + n, true
	}
	if name == "bed" {
		return "B", true
	}
	return "", false
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
