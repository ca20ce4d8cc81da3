package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/persistence/middleware"
	"github.com/aretw0/coachflow/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func newSession(id string) *domain.ConversationSession {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := domain.NewSession(id, "user-1", "tenant-1", "values", now)
	s.Workflow = domain.NewWorkflowState(id, domain.WorkflowConversational, domain.NodeGreeting, now)
	return s
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunConversationStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := memory.NewStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	original := newSession("test-session")
	original.Append(domain.RoleUser, "my-secret-sauce", original.CreatedAt)

	if err := secureStore.Put(ctx, original, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if original.Version != 1 {
		t.Errorf("expected version 1, got %d", original.Version)
	}

	stored, err := underlyingStore.Get(ctx, "test-session")
	if err != nil {
		t.Fatalf("Underlying get failed: %v", err)
	}
	if len(stored.Messages) != 0 || stored.Workflow != nil {
		t.Fatal("Expected messages and workflow to be hidden")
	}
	if stored.Sealed == "" || strings.Contains(stored.Sealed, "secret") {
		t.Fatal("Expected sealed payload in envelope")
	}
	if stored.UserID != "user-1" || stored.Status != domain.LifecycleNew {
		t.Error("Expected identity and lifecycle fields in clear")
	}

	loaded, err := secureStore.Get(ctx, "test-session")
	if err != nil {
		t.Fatalf("Get via middleware failed: %v", err)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "my-secret-sauce" {
		t.Errorf("Expected decrypted message, got %+v", loaded.Messages)
	}
	if loaded.Sealed != "" {
		t.Error("Decrypted session must not carry the sealed payload")
	}
	if loaded.Version != 1 {
		t.Errorf("expected version 1, got %d", loaded.Version)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()
	s := newSession("rotation-session")
	s.PauseReason = "encrypted-with-old-key"

	if err := secureStoreOld.Put(ctx, s, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Get(ctx, "rotation-session")
	if err != nil {
		t.Fatalf("Get with rotated key failed: %v", err)
	}
	if loaded.PauseReason != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	loaded.PauseReason = "encrypted-with-new-key"
	if err := secureStoreNew.Put(ctx, loaded, loaded.Version); err != nil {
		t.Fatalf("Put with new key failed: %v", err)
	}

	if _, err := secureStoreOld.Get(ctx, "rotation-session"); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainRecords(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	if err := underlyingStore.Put(ctx, newSession("plain"), 0); err != nil {
		t.Fatal(err)
	}

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	if _, err := secureStore.Get(ctx, "plain"); err == nil {
		t.Error("Expected unsealed record to be rejected")
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	got, err := middleware.ParseKey(base64.StdEncoding.EncodeToString(key))
	if err != nil || string(got) != string(key) {
		t.Errorf("ParseKey() = %v, %v", got, err)
	}
	if _, err := middleware.ParseKey(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := middleware.ParseKey("%%%"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
