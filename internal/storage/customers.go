package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveCustomer upserts a customer record.
func (s *Store) SaveCustomer(ctx context.Context, c Customer) error {
	if c.AddressJSON == "" {
		c.AddressJSON = "{}"
	}
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO customers (id, name, email, phone, address_json, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				email = excluded.email,
				phone = excluded.phone,
				address_json = excluded.address_json,
				updated_at = excluded.updated_at`,
			c.ID, c.Name, c.Email, c.Phone, c.AddressJSON, formatTime(c.UpdatedAt),
		)
		return err
	})
}

// GetCustomer loads a customer by ID. Returns ErrNotFound when absent.
func (s *Store) GetCustomer(ctx context.Context, id string) (Customer, error) {
	var c Customer
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, address_json, updated_at
		FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.AddressJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Customer{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return c, nil
}
