package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleAdmin
}

type User struct {
	Id        string    `json:"id" validate:"required"`
	Role      Role      `json:"role" validate:"oneof=driver admin"`
	Name      string    `json:"name"`
	Email     string    `json:"email" validate:"omitempty,email"`
	CreatedAt time.Time `json:"createdAt"`
}

func ValidateUser(u *User) error {
	err := vld.Struct(u)
	if err != nil {
		return fmt.Errorf("invalid user %q: %w", u.Id, err)
	}
	return nil
}

// DecodeUser is the deserialization boundary for user documents.
func DecodeUser(data []byte) (User, error) {
	u := User{}
	err := json.Unmarshal(data, &u)
	if err != nil {
		return User{}, err
	}
	err = ValidateUser(&u)
	if err != nil {
		return User{}, err
	}
	return u, nil
}
