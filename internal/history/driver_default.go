//go:build !(sqlite_vec && cgo)

package history

import (
	_ "modernc.org/sqlite"
)

// Pure-Go SQLite driver; no cgo toolchain required.
const driverName = "sqlite"
