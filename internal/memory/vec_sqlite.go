//go:build sqlite_vec && cgo

package memory

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// vecEnabled routes RetrieveScored through vec_distance_cosine in SQL.
const vecEnabled = true

func init() {
	// Register sqlite-vec with the mattn/go-sqlite3 driver so retrieval
	// queries can call vec_distance_cosine.
	vec.Auto()
}
