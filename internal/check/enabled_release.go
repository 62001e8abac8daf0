//go:build !debug

package check

const enabled = false
