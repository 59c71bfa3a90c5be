package authz

import (
	"context"
	"testing"

	"github.com/hostelops/gatehouse/model"
)

func TestStaticDirectory_RoleOf(t *testing.T) {
	dir, err := NewStaticDirectory("testdata/users.yaml")
	if err != nil {
		t.Fatalf("NewStaticDirectory error: %v", err)
	}

	role, err := dir.RoleOf(context.Background(), "user-amara")
	if err != nil {
		t.Fatalf("RoleOf error: %v", err)
	}
	if role != "warden" {
		t.Errorf("role = %q, want warden", role)
	}
}

func TestStaticDirectory_RoleOf_unknown(t *testing.T) {
	dir, err := NewStaticDirectory("testdata/users.yaml")
	if err != nil {
		t.Fatalf("NewStaticDirectory error: %v", err)
	}

	_, err = dir.RoleOf(context.Background(), "ghost")
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok || envErr.Code != model.ErrNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestStaticDirectory_missing_file(t *testing.T) {
	if _, err := NewStaticDirectory("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing directory file")
	}
}
