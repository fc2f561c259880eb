// Package domain define os tipos e contratos do controle de admissão.
//
// Este pacote não depende de net/http nem de implementações concretas
// (redis, NATS, Prometheus). Os colaboradores externos (store de contagem
// compartilhado, provedor de sessão, sink de auditoria) aparecem aqui apenas
// como interfaces.
package domain
