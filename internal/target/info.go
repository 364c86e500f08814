package target

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ConnectionInfo is the JSON document stored alongside a saved connection.
type ConnectionInfo struct {
	Host     string `json:"host,omitempty"`
	Port     Port   `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode,omitempty"`
}

// Port accepts both numeric and quoted port values.
type Port int

func (p *Port) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*p = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid port %s", string(data))
	}
	*p = Port(value)
	return nil
}

func EncodeConnectionInfo(t Target) (string, error) {
	payload, err := json.Marshal(ConnectionInfo{
		Host:     t.Host,
		Port:     Port(t.Port),
		User:     t.User,
		Password: t.Password,
		Database: t.Database,
		SSLMode:  t.SSLMode,
	})
	if err != nil {
		return "", fmt.Errorf("encode connection info: %w", err)
	}
	return string(payload), nil
}

// FromConnectionInfo rebuilds a Target from a saved connection row.
func FromConnectionInfo(id int64, name, dialect, connectionInfo string) (Target, error) {
	parsedDialect, err := ParseDialect(dialect)
	if err != nil {
		return Target{}, err
	}
	var info ConnectionInfo
	if err := json.Unmarshal([]byte(connectionInfo), &info); err != nil {
		return Target{}, fmt.Errorf("decode connection info: %w", err)
	}
	return Target{
		ID:       id,
		Name:     name,
		Dialect:  parsedDialect,
		Host:     info.Host,
		Port:     int(info.Port),
		User:     info.User,
		Password: info.Password,
		Database: info.Database,
		SSLMode:  info.SSLMode,
	}, nil
}
