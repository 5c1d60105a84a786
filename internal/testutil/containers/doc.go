// Package containers starts throwaway MySQL, ntfy and Mosquitto instances
// for integration tests. Files are built only with the integration tag:
//
//	go test -tags=integration ./...
//
// Packages share one container per test binary from TestMain and reset
// state between tests.
package containers
