package commands

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Role is the three-tier access level gating command execution.
type Role int

const (
	RoleUser Role = iota
	RoleDeveloper
	RoleAdmin
)

var roleNames = map[string]Role{
	"admin":     RoleAdmin,
	"developer": RoleDeveloper,
}

// permissionsFile is the decode target for permissions.yaml: role name to
// a list of user IDs holding that role.
type permissionsFile map[string][]string

// LoadPermissions reads permissions.yaml and returns a userID -> Role map.
// A missing file yields an empty map (everyone is RoleUser). Loaded fresh on
// every check per the spec — cheap enough to re-read, and allows hot-edit.
func LoadPermissions(path string) (map[string]Role, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Role{}, nil
	}
	if err != nil {
		return nil, err
	}

	var pf permissionsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, err
	}

	result := make(map[string]Role)
	for roleName, ids := range pf {
		level, ok := roleNames[roleName]
		if !ok {
			continue
		}
		for _, id := range ids {
			result[id] = level
		}
	}
	return result, nil
}

// GetRole looks up userID's role by re-reading permissionsPath. Read errors
// are treated as "no elevated role" rather than propagated, since a command
// check must never panic the message-handling path over a config hiccup.
func GetRole(permissionsPath, userID string) Role {
	roles, err := LoadPermissions(permissionsPath)
	if err != nil {
		return RoleUser
	}
	return roles[userID]
}
