package providers_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/pkg/adapters/scripted"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/providers"
)

var request = domain.InferenceRequest{
	SystemPrompt: "be brief",
	Messages:     []domain.ChatMessage{{Role: domain.RoleUser, Content: "hello there"}},
}

func TestManager_FallbackToLastProvider(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("%d providers", n), func(t *testing.T) {
			m := providers.NewManager()
			var adapters []*scripted.Provider
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("p%d", i+1)
				opts := []scripted.Option{scripted.WithRule("", "answer from "+name)}
				if i < n-1 {
					opts = append(opts, scripted.WithFailure(errors.New("quota exceeded")))
				}
				a := scripted.New(name, opts...)
				adapters = append(adapters, a)
				require.NoError(t, m.Register(scripted.Descriptor(name, i+1, "m1"), a))
			}

			res, err := m.Infer(context.Background(), request)
			require.NoError(t, err)
			last := fmt.Sprintf("p%d", n)
			assert.Equal(t, last, res.Provider)
			assert.Equal(t, "answer from "+last, res.Text)
			assert.Len(t, res.Attempts, n-1)
			for i, a := range res.Attempts {
				assert.Equal(t, fmt.Sprintf("p%d", i+1), a.Provider)
			}
			for _, a := range adapters {
				assert.Equal(t, 1, a.CallCount())
			}
		})
	}
}

func TestManager_AllProvidersFail(t *testing.T) {
	m := providers.NewManager()
	for i := 1; i <= 3; i++ {
		name := fmt.Sprintf("p%d", i)
		require.NoError(t, m.Register(scripted.Descriptor(name, i, "m1"), scripted.New(name, scripted.WithFailure(errors.New("down")))))
	}

	_, err := m.Infer(context.Background(), request)
	var all *domain.AllProvidersFailedError
	require.True(t, errors.As(err, &all))
	assert.Len(t, all.Attempts, 3)
	assert.Equal(t, domain.CodeAllProvidersFailed, domain.ErrorCode(err))
}

func TestManager_Ordering(t *testing.T) {
	a := scripted.New("a", scripted.WithRule("", "a"))
	b := scripted.New("b", scripted.WithRule("", "b"))
	c := scripted.New("c", scripted.WithRule("", "c"))

	m := providers.NewManager(providers.WithDefault("b"))
	require.NoError(t, m.Register(scripted.Descriptor("a", 1, "m1"), a))
	require.NoError(t, m.Register(scripted.Descriptor("b", 2, "m1"), b))
	require.NoError(t, m.Register(scripted.Descriptor("c", 3, "m1"), c))

	res, err := m.Infer(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider, "default provider comes before priority order")

	req := request
	req.ProviderHint = "c"
	res, err = m.Infer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "c", res.Provider, "a usable hint wins")

	m.SetHealthy("c", false)
	res, err = m.Infer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider, "an unhealthy hint is ignored")
}

func TestManager_UnsupportedModelSkipsWithoutCall(t *testing.T) {
	cheap := scripted.New("cheap", scripted.WithRule("", "cheap"))
	big := scripted.New("big", scripted.WithRule("", "big"))

	m := providers.NewManager()
	require.NoError(t, m.Register(scripted.Descriptor("cheap", 1, "small"), cheap))
	bigDesc := scripted.Descriptor("big", 2, "large")
	bigDesc.Models["large"] = domain.ModelPrice{InputPerMTok: 3, OutputPerMTok: 15}
	require.NoError(t, m.Register(bigDesc, big))

	req := request
	req.ModelHint = "large"
	res, err := m.Infer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "big", res.Provider)
	assert.Equal(t, "large", res.Model)
	assert.Equal(t, 0, cheap.CallCount(), "no network call for an unsupported model")
	require.Len(t, res.Attempts, 1)
	assert.ErrorIs(t, res.Attempts[0].Err, domain.ErrModelNotSupported)

	// 4 input words ("be brief" + "hello there"), 1 output word.
	assert.Equal(t, 4, res.InputTokens)
	assert.Equal(t, 1, res.OutputTokens)
	assert.Equal(t, 5, res.TotalTokens)
	assert.InDelta(t, (4*3.0+1*15.0)/1e6, res.Cost, 1e-12)
}

func TestManager_Hooks(t *testing.T) {
	var events []*domain.ProviderEvent
	m := providers.NewManager(providers.WithLifecycleHooks(domain.LifecycleHooks{
		OnProviderAttempt: func(ctx context.Context, e *domain.ProviderEvent) { events = append(events, e) },
	}))
	require.NoError(t, m.Register(scripted.Descriptor("a", 1, "m1"), scripted.New("a", scripted.WithFailure(errors.New("x")))))
	bad := scripted.Descriptor("b", 2, "m1")
	bad.Healthy = false
	require.NoError(t, m.Register(bad, scripted.New("b")))
	require.NoError(t, m.Register(scripted.Descriptor("c", 3, "m1"), scripted.New("c", scripted.WithEcho())))

	_, err := m.Infer(context.Background(), request)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Error(t, events[0].Err)
	assert.True(t, events[1].Skipped)
	assert.ErrorIs(t, events[1].Err, domain.ErrProviderUnhealthy)
	assert.NoError(t, events[2].Err)
}

func TestManager_Status(t *testing.T) {
	m := providers.NewManager()
	require.NoError(t, m.Register(scripted.Descriptor("ok", 1, "m1"), scripted.New("ok", scripted.WithEcho())))
	require.NoError(t, m.Register(scripted.Descriptor("down", 2, "m1"), scripted.New("down", scripted.WithHealth(errors.New("unreachable")))))

	statuses := m.Status(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, "ok", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "unreachable", statuses[1].Error)

	for _, d := range m.Descriptors() {
		if d.Name == "down" {
			assert.False(t, d.Healthy, "status refreshes the health flag")
		}
	}
}

func TestManager_RegisterValidation(t *testing.T) {
	m := providers.NewManager()
	assert.Error(t, m.Register(scripted.Descriptor("x", 1, "m"), scripted.New("y")))
	assert.Error(t, m.Register(domain.ProviderDescriptor{Name: "x"}, scripted.New("x")))
	require.NoError(t, m.Register(scripted.Descriptor("x", 1, "m"), scripted.New("x")))
	assert.Error(t, m.Register(scripted.Descriptor("x", 1, "m"), scripted.New("x")))
}

func TestManager_ConcurrentInferAndHealthUpdates(t *testing.T) {
	m := providers.NewManager()
	require.NoError(t, m.Register(scripted.Descriptor("p1", 1, "m1"), scripted.New("p1", scripted.WithRule("", "ok"))))
	require.NoError(t, m.Register(scripted.Descriptor("p2", 2, "m1"), scripted.New("p2", scripted.WithRule("", "ok"))))

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			if _, err := m.Infer(ctx, request); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			m.SetHealthy("p1", true)
		}()
		go func() {
			defer wg.Done()
			m.Status(ctx)
		}()
	}
	wg.Wait()

	for _, d := range m.Descriptors() {
		assert.True(t, d.Healthy, d.Name)
	}
}
