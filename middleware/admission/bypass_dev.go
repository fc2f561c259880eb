//go:build devgateway

package admission

// devBuild libera o bypass do pipeline e detalhes de erro nas respostas 500.
const devBuild = true
