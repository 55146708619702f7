package model

import "testing"

func TestMergeRoles(t *testing.T) {
	known := []Role{
		{Name: "dev", Source: RoleSourceExternal},
		{Name: "ops", Source: RoleSourceExternal},
	}
	external := []Role{
		{Name: "ops", Source: RoleSourceExternal},
		{Name: "qa", Source: RoleSourceExternal},
	}

	merged := MergeRoles(known, external)

	if len(merged) != 3 {
		t.Fatalf("MergeRoles вернул %d ролей, хотели 3: %v", len(merged), merged)
	}

	names := map[string]bool{}
	for _, r := range merged {
		names[r.Name] = true
	}
	for _, want := range []string{"dev", "ops", "qa"} {
		if !names[want] {
			t.Errorf("после MergeRoles отсутствует роль %q", want)
		}
	}
}

func TestMergeRoles_SourcePreserved(t *testing.T) {
	a := []Role{{Name: "svc", Source: RoleSourceExplicit}}
	b := []Role{{Name: "svc", Source: RoleSourceExternal}}

	merged := MergeRoles(a, b)
	if len(merged) != 1 {
		t.Fatalf("MergeRoles вернул %d ролей, хотели 1", len(merged))
	}
	// Идентичность роли — по имени; при совпадении сохраняется первая запись
	if merged[0].Source != RoleSourceExplicit {
		t.Errorf("Source = %s, хотели EXPLICIT (первая запись выигрывает)", merged[0].Source)
	}
}

func TestNewExternalRoles(t *testing.T) {
	roles := NewExternalRoles([]string{"dev", "", "ops"})
	if len(roles) != 2 {
		t.Fatalf("NewExternalRoles вернул %d ролей, хотели 2 (пустые имена игнорируются)", len(roles))
	}
	for _, r := range roles {
		if r.Source != RoleSourceExternal {
			t.Errorf("роль %q имеет источник %s, хотели EXTERNAL", r.Name, r.Source)
		}
	}
}

func TestRolesIntersect(t *testing.T) {
	roles := []Role{{Name: "dev"}, {Name: "ops"}}

	tests := []struct {
		name  string
		names []string
		want  bool
	}{
		{name: "есть пересечение", names: []string{"ops"}, want: true},
		{name: "нет пересечения", names: []string{"qa"}, want: false},
		{name: "пустой фильтр", names: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RolesIntersect(roles, tt.names); got != tt.want {
				t.Errorf("RolesIntersect(%v) = %v, хотели %v", tt.names, got, tt.want)
			}
		})
	}
}
