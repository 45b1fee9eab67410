// Package storage provides the crash-safe file primitives the vault
// lifecycle builds on: write to a temp file in the target directory,
// fsync, then atomically rename over the destination.
package storage
