package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/persistence/middleware"
	"github.com/aretw0/coachflow/pkg/ports"
)

func TestPIIMiddleware_Contract(t *testing.T) {
	ports.RunConversationStoreContract(t, middleware.NewPIIMiddleware([]string{"email"})(memory.NewStore()))
}

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := memory.NewStore()
	secureStore := middleware.Chain(underlyingStore, middleware.NewPIIMiddleware([]string{"password", "ssn"}))

	ctx := context.Background()
	s := newSession("pii-session")
	s.Workflow.Context.Conversation.Params = map[string]any{
		"username":      "jdoe",
		"user_password": "secret123",
		"details": map[string]any{
			"address":    "123 St",
			"ssn_number": "999-99-9999",
		},
	}

	if err := secureStore.Put(ctx, s, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if s.Version != 1 {
		t.Errorf("expected version to propagate, got %d", s.Version)
	}

	params := s.Workflow.Context.Conversation.Params
	if params["user_password"] != "secret123" {
		t.Error("Middleware modified original session in memory!")
	}
	if params["details"].(map[string]any)["ssn_number"] != "999-99-9999" {
		t.Error("Middleware modified nested params in memory!")
	}

	stored, err := underlyingStore.Get(ctx, "pii-session")
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	storedParams := stored.Workflow.Context.Conversation.Params
	if storedParams["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if storedParams["user_password"] != middleware.Mask {
		t.Errorf("Password should be masked, got: %v", storedParams["user_password"])
	}
	details := storedParams["details"].(map[string]any)
	if details["ssn_number"] != middleware.Mask {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
}

func TestChain_Order(t *testing.T) {
	key := make([]byte, 32)
	store := middleware.Chain(memory.NewStore(),
		middleware.NewPIIMiddleware([]string{"email"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)

	ctx := context.Background()
	s := newSession("chained")
	s.Workflow.Context.Conversation.Params = map[string]any{"email": "a@b.c"}
	if err := store.Put(ctx, s, 0); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Get(ctx, "chained")
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Workflow.Context.Conversation.Params["email"]; got != middleware.Mask {
		t.Errorf("expected masked email inside the sealed payload, got %v", got)
	}
}
