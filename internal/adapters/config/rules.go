package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"

	"chainintel/pkg/errors"
)

//go:embed assets/notify_rules.json
var defaultNotifyRules []byte

// NotifyRules describes who receives which alerts and over which channels
type NotifyRules struct {
	// Risk bucket (HIGH, MEDIUM, LOW) to the channels used for it
	LevelChannels map[string][]string `json:"level_channels"`
	Receivers     []ReceiverRule      `json:"receivers"`
}

// ReceiverRule is a subscription filter plus per-channel targets.
// "*" in any filter list matches everything.
type ReceiverRule struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Chains     []string          `json:"chains"`
	RiskLevels []string          `json:"risk_levels"`
	EventTypes []string          `json:"event_types"`
	Channels   map[string]string `json:"channels"`
}

// LoadNotifyRules reads the rules file, or the embedded default when path is empty.
// ${VAR} references are expanded from the environment and channels whose
// target expands to an empty string are dropped.
func LoadNotifyRules(path string) (*NotifyRules, error) {
	raw := defaultNotifyRules
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read notify rules %s", path)
		}
		raw = data
	}
	return ParseNotifyRules(raw)
}

// ParseNotifyRules decodes and normalizes a rules document
func ParseNotifyRules(raw []byte) (*NotifyRules, error) {
	var rules NotifyRules
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(raw))), &rules); err != nil {
		return nil, errors.Wrap(err, "decode notify rules")
	}

	for i := range rules.Receivers {
		r := &rules.Receivers[i]
		if r.ID == "" {
			return nil, errors.NewValidationError("receivers.id", "receiver id is required", i)
		}
		for channel, target := range r.Channels {
			if strings.TrimSpace(target) == "" {
				delete(r.Channels, channel)
			}
		}
	}

	if len(rules.LevelChannels) == 0 {
		return nil, errors.NewValidationError("level_channels", "at least one level must be configured", nil)
	}

	return &rules, nil
}
