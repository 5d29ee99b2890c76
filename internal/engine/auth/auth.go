// Package auth decides which request actors may run privileged operations.
package auth

import (
	"fmt"
	"strings"
)

const PermissionSettingsWrite = "settings.write"

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	ActorID    string
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Policy grants settings.write to the configured admin roles. An empty role
// list grants it to every authenticated actor.
type Policy struct {
	AdminRoles []string
}

func (p Policy) Require(actorID string, roles, permissions []string, perm string) error {
	if p.Allowed(roles, permissions, perm) {
		return nil
	}
	return ForbiddenError{ActorID: actorID, Permission: perm}
}

func (p Policy) Allowed(roles, permissions []string, perm string) bool {
	for _, granted := range permissions {
		if granted == perm || granted == "*" {
			return true
		}
	}
	if perm != PermissionSettingsWrite {
		return false
	}
	if len(p.AdminRoles) == 0 {
		return true
	}
	for _, r := range roles {
		for _, admin := range p.AdminRoles {
			if strings.EqualFold(r, admin) {
				return true
			}
		}
	}
	return false
}
