package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPExecutor_Execute(t *testing.T) {
	var gotPath, gotAuth string
	var gotArgs map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotArgs); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"requisition":{"id":42}}`))
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL+"/", "portal-key")
	out, err := ex.Execute(context.Background(), "read_requisition", map[string]any{"requisition_id": float64(42)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotPath != "/tools/read_requisition" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer portal-key" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotArgs["requisition_id"] != float64(42) {
		t.Fatalf("arguments = %v", gotArgs)
	}
	if out != `{"requisition":{"id":42}}` {
		t.Fatalf("output = %q", out)
	}
}

func TestHTTPExecutor_NilArgumentsSendEmptyObject(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"locations":[]}`))
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, "")
	if _, err := ex.Execute(context.Background(), "list_locations", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotBody != "{}" {
		t.Fatalf("body = %q, want {}", gotBody)
	}
}

func TestHTTPExecutor_UnknownTool(t *testing.T) {
	ex := NewHTTPExecutor("http://portal.invalid", "")
	_, err := ex.Execute(context.Background(), "drop_tables", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("err = %v, want unknown tool", err)
	}
}

func TestHTTPExecutor_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "requisition not found", http.StatusNotFound)
	}))
	defer srv.Close()

	ex := NewHTTPExecutor(srv.URL, "")
	_, err := ex.Execute(context.Background(), "read_requisition", map[string]any{"requisition_id": float64(1)})
	if err == nil {
		t.Fatal("Execute succeeded, want error")
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Fatalf("err = %v, want status 404", err)
	}
	if !strings.Contains(err.Error(), "requisition not found") {
		t.Fatalf("err = %v, want body excerpt", err)
	}
}
