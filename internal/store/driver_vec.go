//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName       = "sqlite3"
	cosineDistanceFn = "vec_distance_cosine"
)

func init() {
	// Register sqlite-vec as an auto-loadable extension on the cgo driver.
	vec.Auto()
}
