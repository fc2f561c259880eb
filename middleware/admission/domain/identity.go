package domain

// IdentityKind diz de onde veio a identidade do cliente.
type IdentityKind string

const (
	IdentityUser IdentityKind = "user"
	IdentityIP   IdentityKind = "ip"
)

// ClientIdentity é derivada uma única vez por request e não muda depois disso.
type ClientIdentity struct {
	Kind  IdentityKind
	Value string
}

func UserIdentity(id string) ClientIdentity { return ClientIdentity{Kind: IdentityUser, Value: id} }
func IPIdentity(ip string) ClientIdentity { return ClientIdentity{Kind: IdentityIP, Value: ip} }

// String retorna a forma usada em chaves de store e logs: "user:<id>" ou "ip:<addr>".
func (c ClientIdentity) String() string {
	return string(c.Kind) + ":" + c.Value
}
