package irbis

import (
	"fmt"
	"strconv"
	"strings"
)

// UnknownKeyError reports a connection string key that is not recognized.
// Unknown keys are rejected so that typos do not go unnoticed.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("irbis: unknown connection string key %q", e.Key)
}

// connectionKeys maps every accepted key, lower case, to its canonical name.
var connectionKeys = map[string]string{
	"host":        "host",
	"server":      "host",
	"address":     "host",
	"port":        "port",
	"user":        "username",
	"username":    "username",
	"name":        "username",
	"login":       "username",
	"account":     "username",
	"password":    "password",
	"pwd":         "password",
	"pass":        "password",
	"db":          "database",
	"database":    "database",
	"catalog":     "database",
	"arm":         "workstation",
	"workstation": "workstation",
	"retry":       "retry",
	"data":        "data",
}

// ParseConnectionString applies "key=value;..." settings to the connection.
// Keys are case-insensitive and have synonyms (host, server and address
// are the same key). The connection is left unchanged on error.
func (c *Connection) ParseConnectionString(text string) error {
	settings := c.Settings()
	if err := settings.parse(text); err != nil {
		return err
	}
	settings.Apply(c)
	return nil
}

// ConnectionString renders the connection settings in the form
// ParseConnectionString accepts.
func (c *Connection) ConnectionString() string {
	return c.Settings().ConnectionString()
}

func (s *ConnectionSettings) parse(text string) error {
	for _, item := range strings.Split(text, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		key, value, found := strings.Cut(item, "=")
		if !found {
			return fmt.Errorf("irbis: malformed connection string item %q", item)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		canonical, ok := connectionKeys[key]
		if !ok {
			return &UnknownKeyError{Key: key}
		}

		switch canonical {
		case "host":
			s.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("irbis: invalid port %q", value)
			}
			s.Port = port
		case "username":
			s.Username = value
		case "password":
			s.Password = value
		case "database":
			s.Database = value
		case "workstation":
			s.Workstation = strings.ToUpper(value)
		case "retry":
			limit, err := strconv.Atoi(value)
			if err != nil || limit < 0 {
				return fmt.Errorf("irbis: invalid retry limit %q", value)
			}
			s.RetryLimit = limit
		case "data":
			s.Data = value
		}
	}
	return nil
}

// ConnectionString renders the settings as "key=value;..." text.
func (s ConnectionSettings) ConnectionString() string {
	var sb strings.Builder
	write := func(key, value string) {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(value)
		sb.WriteByte(';')
	}

	write("host", s.Host)
	write("port", strconv.Itoa(s.Port))
	write("username", s.Username)
	write("password", s.Password)
	write("database", s.Database)
	write("workstation", s.Workstation)
	if s.RetryLimit > 0 {
		write("retry", strconv.Itoa(s.RetryLimit))
	}
	if s.Data != "" {
		write("data", s.Data)
	}
	return sb.String()
}
