//go:build !sqlite_vec || !cgo

package memory

// Without the sqlite_vec tag, retrieval ranks chunks in Go.
const vecEnabled = false
