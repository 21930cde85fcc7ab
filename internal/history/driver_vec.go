//go:build sqlite_vec && cgo

package history

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// cgo build with the sqlite-vec extension auto-loaded, enabling the
// vec0 virtual-table path in Store when the probe succeeds.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
