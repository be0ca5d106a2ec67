// seed creates the ADMIN password account from SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD.
// Idempotent: skips the insert if the account already exists.
package main

import (
	"context"
	"errors"
	"log"
	"time"

	"identity-service/backend/internal/config"
	"identity-service/backend/internal/db"
	"identity-service/backend/internal/security"
	userdomain "identity-service/backend/internal/user/domain"
	"identity-service/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		log.Fatal("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD must be set")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := seedAdmin(ctx, repository.NewPostgresRepository(conn), security.NewHasher(cfg.PBKDF2Iterations), cfg.SeedAdminEmail, cfg.SeedAdminPassword); err != nil {
		log.Fatalf("seed: %v", err)
	}
}

// seedAdmin inserts the ADMIN account unless (email, PASSWORD) already exists.
func seedAdmin(ctx context.Context, repo repository.Repository, hasher *security.Hasher, email, password string) error {
	existing, err := repo.FindByEmailAndMethod(ctx, email, userdomain.AuthMethodPassword)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", email)
		return nil
	}

	salt, err := hasher.GenerateSalt()
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(password, salt)
	if err != nil {
		return err
	}
	name := "Administrator"
	u, err := repo.Insert(ctx, &userdomain.User{
		Email:        email,
		PasswordHash: &hash,
		Salt:         &salt,
		Name:         &name,
		Permission:   userdomain.PermissionAdmin,
		Method:       userdomain.AuthMethodPassword,
	})
	var ce *repository.ConstraintError
	if errors.As(err, &ce) {
		log.Printf("Seed raced with another writer (%s exists). Skipping.", email)
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("Seeded ADMIN %s (%s)", u.Email, u.ID)
	return nil
}
