package address

type Type string

const (
	TypeShipping Type = "SHIPPING"
	TypeBilling  Type = "BILLING"
)

func (t Type) Valid() bool {
	return t == TypeShipping || t == TypeBilling
}

// Address belongs to exactly one user. At most one address per user and
// type is the default.
type Address struct {
	ID         int64  `db:"id"`
	UserID     int64  `db:"user_id"`
	Street     string `db:"street"`
	City       string `db:"city"`
	State      string `db:"state"`
	PostalCode string `db:"postal_code"`
	Country    string `db:"country"`
	IsDefault  bool   `db:"is_default"`
	Type       Type   `db:"address_type"`
}
