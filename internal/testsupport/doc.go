// Package testsupport holds helpers shared by package tests: temp-dir backed
// configs, an opened meeting store, and an in-memory fake of the blob store
// with fault injection.
package testsupport
