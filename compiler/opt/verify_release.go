//go:build hirjit_release

package opt

const verifyPasses = false
