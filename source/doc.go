// Package source locates the engine binary: a file on disk, an http(s) URL,
// or bytes already in memory.
package source
