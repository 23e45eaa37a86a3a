package models

// All lists the tables owned by this service, in dependency order. Used for
// sqlite development databases and tests where goose SQL is not applied.
func All() []any {
	return []any{
		&Store{},
		&Product{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&OutboxEvent{},
	}
}
