package models

import "time"

// User is a registered account.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// UserRef is the short user view embedded in other payloads.
type UserRef struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}
