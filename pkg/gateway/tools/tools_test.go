package tools

import (
	"context"
	"testing"
)

func TestDeclarationsCoverPortalTools(t *testing.T) {
	want := []string{
		"read_requisition",
		"search_requisitions",
		"get_requisition_stats",
		"list_locations",
		"list_suppliers",
		"search_materials",
		"create_requisition",
	}

	decls := Declarations()
	if len(decls) != len(want) {
		t.Fatalf("len(Declarations()) = %d, want %d", len(decls), len(want))
	}
	for i, name := range want {
		if decls[i].Name != name {
			t.Fatalf("decls[%d].Name = %q, want %q", i, decls[i].Name, name)
		}
		if decls[i].Description == "" {
			t.Fatalf("%s has empty description", name)
		}
		if decls[i].Parameters["type"] != "object" {
			t.Fatalf("%s parameters type = %v, want object", name, decls[i].Parameters["type"])
		}
	}
}

func TestRealtimeFormat(t *testing.T) {
	decls := Declarations()
	rt := RealtimeFormat(decls)
	if len(rt) != len(decls) {
		t.Fatalf("len = %d, want %d", len(rt), len(decls))
	}
	first := rt[0]
	if first["type"] != "function" {
		t.Fatalf("type = %v, want function", first["type"])
	}
	if first["name"] != "read_requisition" {
		t.Fatalf("name = %v", first["name"])
	}
	if first["parameters"] == nil {
		t.Fatal("parameters missing")
	}
}

func TestByName(t *testing.T) {
	m := ByName(Declarations())
	if _, ok := m["create_requisition"]; !ok {
		t.Fatal("create_requisition missing from index")
	}
}

func TestFuncExecutor(t *testing.T) {
	exec := FuncExecutor(func(_ context.Context, name string, args map[string]any) (string, error) {
		if name != "list_locations" {
			t.Fatalf("name = %q", name)
		}
		return "ok", nil
	})

	out, err := exec.Execute(context.Background(), "list_locations", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "ok" {
		t.Fatalf("out = %q", out)
	}
}
