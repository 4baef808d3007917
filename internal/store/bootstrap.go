package store

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the system tables and seeds the first admin user.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	row, err := QueryRow(ctx, s.DB, "SELECT COUNT(*) AS count FROM _users")
	if err != nil {
		return err
	}
	if n, _ := row["count"].(int64); n > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	pb := s.Dialect.NewParamBuilder()
	q := fmt.Sprintf("INSERT INTO _users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.NewString()), pb.Add("admin@localhost"), pb.Add(string(hash)), pb.Add(s.Dialect.ArrayParam([]string{"admin"})))
	if _, err := Exec(ctx, s.DB, q, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARN: Default admin user created (admin@localhost / changeme). Change the password immediately.")
	return nil
}
