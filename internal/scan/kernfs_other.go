//go:build !linux

package scan

func isKernFS(string) bool { return false }
