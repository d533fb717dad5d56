package users

import "time"

// User is a dormitory account. PasswordHash never leaves the package as JSON.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	RFIDCard     *string   `json:"rfid_card,omitempty"`
	RoomID       *string   `json:"room_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateUserRequest is the body of POST /v1/users.
type CreateUserRequest struct {
	Name     string  `json:"name" binding:"required"`
	Email    string  `json:"email" binding:"required,email"`
	Password string  `json:"password" binding:"required"`
	Role     string  `json:"role" binding:"required"`
	RFIDCard *string `json:"rfid_card"`
	RoomID   *string `json:"room_id"`
}

const minPasswordLen = 8

var roles = map[string]bool{"admin": true, "manager": true, "student": true}
