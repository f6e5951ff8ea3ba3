package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// Message is a direct message between two participants. Messages are never
// edited or deleted once stored.
type Message struct {
	ID        int64     `json:"id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
