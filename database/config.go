package database

import (
	"fmt"
	"maps"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/syssam/relmap/dialect"
)

// Config describes how to reach a database. When DSN is set it is used
// as is, otherwise the vendor connection string is built from the other
// fields.
type Config struct {
	Dialect  string            `yaml:"dialect"`
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Name     string            `yaml:"name"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	SSL      bool              `yaml:"ssl"`
	Params   map[string]string `yaml:"params"`
	DSN      string            `yaml:"dsn"`
}

var defaultDrivers = map[string]string{
	dialect.Postgres:  "postgres",
	dialect.MySQL:     "mysql",
	dialect.SQLite:    "sqlite",
	dialect.Oracle:    "godror",
	dialect.SQLServer: "sqlserver",
}

var defaultPorts = map[string]int{
	dialect.Postgres:  5432,
	dialect.MySQL:     3306,
	dialect.Oracle:    1521,
	dialect.SQLServer: 1433,
}

// DriverName returns the database/sql driver to open, the vendor default
// when none is configured.
func (c Config) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	return defaultDrivers[c.Dialect]
}

// WithUser returns a copy of the config connecting as u.
func (c Config) WithUser(u User) Config {
	c.User, c.Password = u.Username, u.Password
	c.DSN = ""
	return c
}

func (c Config) address() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = defaultPorts[c.Dialect]
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// sortedParams returns the params in a stable order.
func (c Config) sortedParams() []string {
	return slices.Sorted(maps.Keys(c.Params))
}

// ConnectionString returns the connection string passed to the driver.
func (c Config) ConnectionString() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.Dialect {
	case dialect.Postgres:
		q := url.Values{}
		if !c.SSL {
			q.Set("sslmode", "disable")
		}
		for k, v := range c.Params {
			q.Set(k, v)
		}
		u := url.URL{Scheme: "postgres", Host: c.address(), Path: "/" + c.Name, RawQuery: q.Encode()}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		return u.String(), nil
	case dialect.MySQL:
		mc := mysql.NewConfig()
		mc.User, mc.Passwd = c.User, c.Password
		mc.Net, mc.Addr = "tcp", c.address()
		mc.DBName = c.Name
		mc.ParseTime = true
		if c.SSL {
			mc.TLSConfig = "true"
		}
		if len(c.Params) > 0 {
			mc.Params = maps.Clone(c.Params)
		}
		return mc.FormatDSN(), nil
	case dialect.SQLite:
		name := c.Name
		if name == "" {
			name = ":memory:"
		}
		if len(c.Params) == 0 {
			return "file:" + name, nil
		}
		parts := make([]string, 0, len(c.Params))
		for _, k := range c.sortedParams() {
			parts = append(parts, k+"="+c.Params[k])
		}
		return "file:" + name + "?" + strings.Join(parts, "&"), nil
	case dialect.SQLServer:
		q := url.Values{}
		if c.Name != "" {
			q.Set("database", c.Name)
		}
		if !c.SSL {
			q.Set("encrypt", "disable")
		}
		for k, v := range c.Params {
			q.Set(k, v)
		}
		u := url.URL{Scheme: "sqlserver", Host: c.address(), RawQuery: q.Encode()}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		return u.String(), nil
	case dialect.Oracle:
		var sb strings.Builder
		if c.User != "" {
			fmt.Fprintf(&sb, "user=%q password=%q ", c.User, c.Password)
		}
		fmt.Fprintf(&sb, "connectString=%q", c.address()+"/"+c.Name)
		for _, k := range c.sortedParams() {
			fmt.Fprintf(&sb, " %s=%q", k, c.Params[k])
		}
		return sb.String(), nil
	}
	return "", fmt.Errorf("database: unsupported dialect %q", c.Dialect)
}

// String returns the config without its password.
func (c Config) String() string {
	if c.Dialect == dialect.SQLite {
		return c.Dialect + ":" + c.Name
	}
	return c.Dialect + "://" + c.address() + "/" + c.Name
}
