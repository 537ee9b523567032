package members

import "testing"

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role     Role
		valid    bool
		canRead  bool
		canWrite bool
	}{
		{RoleAdmin, true, true, true},
		{RoleCS, true, true, false},
		{RoleMember, true, false, false},
		{Role("ROOT"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.role.CanRead(); got != tt.canRead {
				t.Errorf("CanRead() = %v, want %v", got, tt.canRead)
			}
			if got := tt.role.CanWrite(); got != tt.canWrite {
				t.Errorf("CanWrite() = %v, want %v", got, tt.canWrite)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name   string
		member Member
		want   string
	}{
		{"username", Member{Username: "neo", FirstName: "Томас"}, "@neo"},
		{"только имя", Member{FirstName: "Томас"}, "Томас"},
		{"пусто", Member{}, "участник"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.member.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
