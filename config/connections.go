package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChannelSpec assigns one remote channel to a connection. Name is the
// join/display handle (Twitch channels are joined by name); ID is the
// platform channel id events carry, which is what ownership is keyed on.
type ChannelSpec struct {
	Name    string `yaml:"name"`
	ID      string `yaml:"id"`
	GuildID string `yaml:"guild_id"`
}

// ConnectionSpec declares one upstream bot connection: which platform it
// speaks, its identity (the assignee value for its channels), credentials,
// and the channels it is responsible for. Credential fields are per-platform;
// unused ones stay empty.
type ConnectionSpec struct {
	Platform string `yaml:"platform"`
	ID       string `yaml:"id"`

	// Twitch IRC
	Username   string `yaml:"username"`
	OAuthToken string `yaml:"oauth_token"`

	// Telegram
	BotToken string `yaml:"bot_token"`

	// History backfill (archive service or another deployment's API)
	HistoryURL   string `yaml:"history_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`

	Channels []ChannelSpec `yaml:"channels"`
}

// Connections is the parsed connections file.
type Connections struct {
	Connections []ConnectionSpec `yaml:"connections"`

	// platform/channelID -> connection id, built once at load time.
	assignees map[string]string
}

// LoadConnections reads and parses the YAML connections file. A missing file
// surfaces as an error wrapping fs.ErrNotExist so callers can treat the
// default path specially.
func LoadConnections(path string) (*Connections, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}
	var conns Connections
	if err := yaml.Unmarshal(b, &conns); err != nil {
		return nil, fmt.Errorf("parse connections file %s: %w", path, err)
	}
	conns.buildAssignees()
	return &conns, nil
}

func (c *Connections) buildAssignees() {
	c.assignees = make(map[string]string)
	for _, conn := range c.Connections {
		for _, ch := range conn.Channels {
			if ch.ID == "" {
				continue // no declared id: first observed sender wins
			}
			c.assignees[conn.Platform+"/"+ch.ID] = conn.ID
		}
	}
}

// AssigneeFor reports the connection id assigned to a channel, or "" when the
// channel is unassigned. The signature matches the sync registry's assignee
// hook so the method can be passed in directly.
func (c *Connections) AssigneeFor(platform, channelID string) string {
	return c.assignees[platform+"/"+channelID]
}

// Validate checks that every connection carries the fields its platform
// needs. All problems are reported in one error.
func (c *Connections) Validate() error {
	var problems []string
	for i, conn := range c.Connections {
		name := conn.ID
		if name == "" {
			name = fmt.Sprintf("connection %d", i)
		}
		if conn.Platform == "" {
			problems = append(problems, name+": missing platform")
		}
		if conn.ID == "" {
			problems = append(problems, fmt.Sprintf("connection %d: missing id", i))
		}
		switch conn.Platform {
		case "twitch":
			if conn.Username == "" || conn.OAuthToken == "" {
				problems = append(problems, name+": twitch requires username and oauth_token")
			}
		case "telegram":
			if conn.BotToken == "" {
				problems = append(problems, name+": telegram requires bot_token")
			}
		}
		if conn.ClientID != "" && conn.ClientSecret == "" {
			problems = append(problems, name+": client_id set without client_secret")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid connections file: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ChannelNames lists the join handles of a connection's channels, skipping
// entries without one.
func (s ConnectionSpec) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for _, ch := range s.Channels {
		if ch.Name != "" {
			names = append(names, ch.Name)
		}
	}
	return names
}
