//go:build !devgateway

package admission

const devBuild = false
