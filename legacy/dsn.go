package legacy

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// mysqlDSN converts a mysql:// URI to a go-sql-driver DSN. Anything else must
// already be a valid DSN.
func mysqlDSN(uri string) (string, error) {
	if !strings.HasPrefix(uri, "mysql") || !strings.Contains(uri, "://") {
		if _, err := mysql.ParseDSN(uri); err != nil {
			return "", fmt.Errorf("legacy: invalid database uri: %w", err)
		}
		return uri, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("legacy: invalid database uri: %w", err)
	}
	if u.Scheme != "mysql" && !strings.HasPrefix(u.Scheme, "mysql+") {
		return "", fmt.Errorf("legacy: unsupported database scheme %q", u.Scheme)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		cfg.Addr = net.JoinHostPort(u.Host, "3306")
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = values[len(values)-1]
	}
	return cfg.FormatDSN(), nil
}
