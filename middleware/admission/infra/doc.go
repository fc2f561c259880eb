// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore / MemoryCounterStore: janelas deslizante e fixa por chave
//   - RedisRiskStore / MemoryRiskStore: score de suspeita com decaimento preguiçoso
//   - RedisSessionStore: provedor de sessão e registros de sessão em hashes redis
//   - sinks de auditoria: zerolog, redis, memória, NATS, Prometheus
//   - ChanPool: semáforo simples para limite de concorrência
//   - LoadPolicyFile: tabela de políticas e rotas em YAML
package infra
