package authz

import "testing"

func TestFallbackResolver_Resolve(t *testing.T) {
	readToExecute := []FallbackRule{{Source: AuthorizationRead, Derived: AuthorizationExecute}}

	tests := []struct {
		name        string
		rules       []FallbackRule
		p           Permissions
		wantExecute []string
	}{
		{
			name:        "EXECUTE не задан — выводится из READ",
			rules:       readToExecute,
			p:           NewBuilder().Add(AuthorizationRead, "r").Build(),
			wantExecute: []string{"r"},
		},
		{
			name:  "EXECUTE задан явно — fallback не переопределяет",
			rules: readToExecute,
			p: NewBuilder().
				Add(AuthorizationRead, "r").
				Add(AuthorizationExecute, "ci").
				Build(),
			wantExecute: []string{"ci"},
		},
		{
			name:        "READ пуст — EXECUTE остаётся пустым",
			rules:       readToExecute,
			p:           NewBuilder().Add(AuthorizationWrite, "w").Build(),
			wantExecute: nil,
		},
		{
			name:        "без правил — вход не изменяется",
			rules:       nil,
			p:           NewBuilder().Add(AuthorizationRead, "r").Build(),
			wantExecute: nil,
		},
		{
			name: "цепочка правил: WRITE→READ, затем READ→EXECUTE",
			rules: []FallbackRule{
				{Source: AuthorizationWrite, Derived: AuthorizationRead},
				{Source: AuthorizationRead, Derived: AuthorizationExecute},
			},
			p:           NewBuilder().Add(AuthorizationWrite, "w").Build(),
			wantExecute: []string{"w"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewFallbackResolver(tt.rules)
			got := resolver.Resolve(tt.p)

			gotExecute := got.Roles(AuthorizationExecute)
			if !equalStrings(gotExecute, tt.wantExecute) {
				t.Errorf("Roles(EXECUTE) = %v, хотели %v", gotExecute, tt.wantExecute)
			}

			// READ никогда не теряется (монотонность)
			for _, r := range tt.p.Roles(AuthorizationRead) {
				if !got.Has(AuthorizationRead, r) {
					t.Errorf("fallback удалил пару (READ, %s)", r)
				}
			}

			// Идемпотентность: повторное применение ничего не меняет
			if again := resolver.Resolve(got); !again.Equal(got) {
				t.Error("повторный Resolve изменил результат")
			}
		})
	}
}

func TestFallbackResolver_ExampleScenario(t *testing.T) {
	// READ={"r"} + правило (READ→EXECUTE) ⇒ READ={"r"}, EXECUTE={"r"}
	resolver := NewFallbackResolver([]FallbackRule{
		{Source: AuthorizationRead, Derived: AuthorizationExecute},
	})

	p := NewBuilder().Add(AuthorizationRead, "r").Build()
	got := resolver.Resolve(p)

	want := NewBuilder().
		Add(AuthorizationRead, "r").
		Add(AuthorizationExecute, "r").
		Build()

	if !got.Equal(want) {
		t.Errorf("Resolve() = READ:%v EXECUTE:%v, хотели READ:[r] EXECUTE:[r]",
			got.Roles(AuthorizationRead), got.Roles(AuthorizationExecute))
	}

	if second := resolver.Resolve(p); !second.Equal(got) {
		t.Error("два вызова Resolve на одном входе дали разные результаты")
	}
}

func TestParseFallbackRules(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "пустая строка — без правил", in: "", want: 0},
		{name: "одно правило", in: "READ>EXECUTE", want: 1},
		{name: "два правила с пробелами", in: " read>execute , WRITE>READ ", want: 2},
		{name: "некорректный формат", in: "READ-EXECUTE", wantErr: true},
		{name: "неизвестный уровень", in: "READ>ADMIN", wantErr: true},
		{name: "source совпадает с derived", in: "READ>READ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseFallbackRules(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseFallbackRules(%q): ожидалась ошибка", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFallbackRules(%q): %v", tt.in, err)
			}
			if len(rules) != tt.want {
				t.Errorf("ParseFallbackRules(%q) вернул %d правил, хотели %d", tt.in, len(rules), tt.want)
			}
		})
	}
}

// equalStrings сравнивает два среза строк поэлементно.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
