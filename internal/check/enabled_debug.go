//go:build debug

package check

const enabled = true
