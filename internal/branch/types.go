// Package branch manages connection pools to per-branch ERP databases.
// Every branch runs its own MySQL instance that this system does not own:
// schemas drift, hosts disappear, and none of that may take the process down.
package branch

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrUnavailable is returned when a branch is unknown or its pool is not
// currently connected. Callers must treat this as a soft, retryable failure.
var ErrUnavailable = errors.New("branch unavailable")

// Status represents the health of a branch pool.
type Status string

const (
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Config holds the identity and connection coordinates of one branch.
// It is owned by the local system-of-record; the registry keeps a runtime
// copy that changes only through explicit add/update/remove calls.
type Config struct {
	ID       int64  `db:"id" json:"id"`
	Code     string `db:"code" json:"code"`
	Name     string `db:"name" json:"name"`
	Host     string `db:"host" json:"host"`
	Port     int    `db:"port" json:"port"`
	User     string `db:"db_user" json:"-"`
	Password string `db:"db_password" json:"-"`
	Database string `db:"db_name" json:"dbName"`

	// PoolMax caps open connections for this branch. 0 means the registry
	// default applies.
	PoolMax int `db:"pool_max" json:"poolMax"`
}

// Validate checks the minimum needed to attempt a connection.
func (c Config) Validate() error {
	if c.ID == 0 {
		return fmt.Errorf("branch id is required")
	}
	if c.Host == "" {
		return fmt.Errorf("branch %d: host is required", c.ID)
	}
	if c.Database == "" {
		return fmt.Errorf("branch %d: database name is required", c.ID)
	}
	return nil
}

// DSN builds the MySQL connection string for this branch.
func (c Config) DSN(connectTimeout, readTimeout time.Duration) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	mc.DBName = c.Database
	mc.Timeout = connectTimeout
	mc.ReadTimeout = readTimeout
	mc.ParseTime = true
	return mc.FormatDSN()
}

// PoolStatus is an observability snapshot of one branch pool.
// Credentials never appear here.
type PoolStatus struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	LastCheck time.Time `json:"lastCheck"`
	Error     string    `json:"error,omitempty"`
	OpenConns int       `json:"openConns"`
	InUse     int       `json:"inUse"`
}

// RowMap is one result row of a dynamic branch query, keyed by column name.
type RowMap map[string]any

// Pool is the capability surface the registry needs from a branch pool.
// *sql.DB satisfies it; tests substitute counting fakes.
type Pool interface {
	PingContext(ctx context.Context) error
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
	Stats() sql.DBStats
}

// IsMissingTable reports whether err is MySQL "table doesn't exist" (1146).
// Branch schemas are outside our control; a missing table degrades to an
// empty result, it is never fatal.
func IsMissingTable(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1146
}

// IsUnavailable reports whether err means the branch cannot be reached at
// all: unknown/disconnected pool, refused connection, or a dead conn.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
