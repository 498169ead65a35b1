//go:build race

package access

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	return bcrypt.DefaultCost
}
