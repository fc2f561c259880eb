// Package application contém os casos de uso do controle de admissão:
// tabela de políticas, banco de rate limit, motor de risco, filtro de IP,
// scanner de entrada e validação de autenticação/sessão.
//
// Depende apenas do pacote domain e não conhece net/http.
// Ex.: RateLimiter.Check(ctx, identity, policy) retorna uma Decision.
package application
