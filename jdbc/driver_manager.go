// Package jdbc opens database connections on the host through
// java.sql.DriverManager.
package jdbc

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"bridge-rpc/fault"
	"bridge-rpc/proxy"
)

// DefaultDriverClass is loaded when CreateConnection is given no driver class.
const DefaultDriverClass = "com.mysql.jdbc.Driver"

// DSN formats a JDBC url:
//
//	jdbc:<driver>://<host>/<db>?user=<user>&password=<password>[&k=v...]
//
// Extra options are appended in key order.
func DSN(driver, db, host, user, password string, options map[string]string) string {
	var sb strings.Builder
	sb.WriteString("jdbc:")
	sb.WriteString(driver)
	sb.WriteString("://")
	sb.WriteString(host)
	sb.WriteString("/")
	sb.WriteString(db)
	sb.WriteString("?user=")
	sb.WriteString(url.QueryEscape(user))
	sb.WriteString("&password=")
	sb.WriteString(url.QueryEscape(password))

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(url.QueryEscape(k))
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(options[k]))
	}
	return sb.String()
}

// DriverManager wraps the host's java.sql.DriverManager.
type DriverManager struct {
	inv *proxy.Invoker
}

func NewDriverManager(inv *proxy.Invoker) *DriverManager {
	return &DriverManager{inv: inv}
}

// CreateConnection loads driverClass on the host and returns a reference to
// a java.sql.Connection for dsn. Host exceptions (an unknown driver, a
// refused login) surface as remote faults.
func (d *DriverManager) CreateConnection(ctx context.Context, dsn, driverClass string) (*proxy.RemoteReference, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fault.New(fault.KindInvalidUsage, "dsn must be a non-empty string")
	}
	if driverClass == "" {
		driverClass = DefaultDriverClass
	}

	class, err := d.inv.ClassByName(ctx, "java.lang.Class")
	if err != nil {
		return nil, err
	}
	if _, err := d.inv.InvokeMethod(ctx, class.Reference(), "forName", driverClass); err != nil {
		return nil, err
	}

	dm, err := d.DriverManager(ctx)
	if err != nil {
		return nil, err
	}
	res, err := d.inv.InvokeMethod(ctx, dm.Reference(), "getConnection", dsn)
	if err != nil {
		return nil, err
	}
	conn, ok := res.(*proxy.RemoteReference)
	if !ok {
		return nil, fault.New(fault.KindUnexpectedFormat, "getConnection returned %T, not a connection", res)
	}
	return conn, nil
}

// DriverManager returns the java.sql.DriverManager class.
func (d *DriverManager) DriverManager(ctx context.Context) (*proxy.ClassDescriptor, error) {
	return d.inv.ClassByName(ctx, "java.sql.DriverManager")
}
