// Package admission é a superfície net/http do controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: tipos, contratos e erros (sem net/http)
//   - application: banco de rate limit, risco, filtro de IP, scanner, auth/sessão
//   - infra: stores (redis/memória), sinks de auditoria, loader do arquivo de políticas
//   - admission (este pacote): resolução de identidade, pipeline do Gateway,
//     envelope JSON e headers de segurança
//
// Fluxo por request (Gateway.Protect / Gateway.Wrap), curto-circuitando no primeiro erro:
//
//  1. validação básica: método, content-type, tamanho do body (405/400/413)
//  2. rate limit por endpoint + burst por operação, ajustado pelo score de risco (429)
//  3. filtro de IP (403)
//  4. autenticação e autorização, se a rota exigir (401/403)
//  5. scanner de entrada para métodos com body (400)
//  6. integridade de sessão, se autenticado (401)
//  7. admissão: evento request_validated e chamada do handler com o SecurityContext
//
// Toda resposta, de sucesso ou de erro, leva os headers de segurança e X-Request-ID.
package admission
