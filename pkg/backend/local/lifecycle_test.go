package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cexll/assistant-go/pkg/backend"
	"github.com/cexll/assistant-go/pkg/chat"
)

// fakeRuntime counts tier transitions and emits canned tokens.
type fakeRuntime struct {
	mu          sync.Mutex
	loads       int
	releases    int
	toHost      int
	toAccel     int
	loadErr     error
	loadTier    Residency
	tierErr     error
	tokens      []string
	generateErr error
}

func newFakeRuntime(tokens ...string) *fakeRuntime {
	return &fakeRuntime{loadTier: ResidencyAccelerator, tokens: tokens}
}

func (f *fakeRuntime) Load(context.Context, string) (Residency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return ResidencyUnloaded, f.loadErr
	}
	f.loads++
	return f.loadTier, nil
}

func (f *fakeRuntime) MoveToHost() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tierErr != nil {
		return f.tierErr
	}
	f.toHost++
	return nil
}

func (f *fakeRuntime) MoveToAccelerator() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tierErr != nil {
		return f.tierErr
	}
	f.toAccel++
	return nil
}

func (f *fakeRuntime) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeRuntime) Generate(ctx context.Context, prompt string, maxTokens int, onToken func(string) error) (string, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	var out strings.Builder
	for _, tok := range f.tokens {
		if err := ctx.Err(); err != nil {
			return out.String(), err
		}
		out.WriteString(tok)
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

func newTestBackend(t *testing.T, rt Runtime, policy EvictionPolicy) *Backend {
	t.Helper()
	b, err := New(Config{
		ModelPath: "/models/test.gguf",
		Policy:    policy,
		Runtime:   rt,
	}, zerolog.Nop())
	require.NoError(t, err)
	return b
}

func userRequest(text string) backend.Request {
	return backend.Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: text}}}
}

func TestEvictionPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   EvictionPolicy
		want     Residency
		releases int
	}{
		{"none keeps resident", EvictNone, ResidencyAccelerator, 0},
		{"cpu drops to host", EvictCPU, ResidencyHost, 0},
		{"full unloads", EvictFull, ResidencyUnloaded, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newFakeRuntime("ok")
			b := newTestBackend(t, rt, tt.policy)

			_, err := b.Complete(context.Background(), userRequest("hi"))
			require.NoError(t, err)

			assert.Equal(t, tt.want, b.Lifecycle().Residency())
			assert.Equal(t, tt.releases, rt.releases)
			assert.Equal(t, 1, b.Lifecycle().Loads())
		})
	}
}

func TestHostResidencySkipsReload(t *testing.T) {
	rt := newFakeRuntime("ok")
	b := newTestBackend(t, rt, EvictCPU)
	ctx := context.Background()

	_, err := b.Complete(ctx, userRequest("first"))
	require.NoError(t, err)
	require.Equal(t, ResidencyHost, b.Lifecycle().Residency())

	// Second call promotes the host copy, the weight source is not re-read.
	_, err = b.Complete(ctx, userRequest("second"))
	require.NoError(t, err)

	assert.Equal(t, 1, rt.loads)
	assert.Equal(t, 1, rt.toAccel)
}

func TestFullEvictionReloads(t *testing.T) {
	rt := newFakeRuntime("ok")
	b := newTestBackend(t, rt, EvictFull)
	ctx := context.Background()

	_, err := b.Complete(ctx, userRequest("first"))
	require.NoError(t, err)
	_, err = b.Complete(ctx, userRequest("second"))
	require.NoError(t, err)

	assert.Equal(t, 2, rt.loads)
}

func TestLoadFailureRollsBack(t *testing.T) {
	rt := newFakeRuntime("ok")
	rt.loadErr = errors.New("weights corrupt")
	b := newTestBackend(t, rt, EvictNone)

	_, err := b.Complete(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrModelLoadFailed)
	assert.Equal(t, ResidencyUnloaded, b.Lifecycle().Residency())
	assert.Equal(t, 0, b.Lifecycle().Loads())
}

func TestTierMigrationUnsupportedDegradesToReload(t *testing.T) {
	rt := newFakeRuntime("ok")
	rt.tierErr = ErrTierUnsupported
	b := newTestBackend(t, rt, EvictCPU)
	ctx := context.Background()

	_, err := b.Complete(ctx, userRequest("first"))
	require.NoError(t, err)
	// MoveToHost failed, so the policy fell back to a full release.
	require.Equal(t, ResidencyUnloaded, b.Lifecycle().Residency())

	_, err = b.Complete(ctx, userRequest("second"))
	require.NoError(t, err)
	assert.Equal(t, 2, rt.loads)
}

func TestStreamEmitsTokensThenDone(t *testing.T) {
	rt := newFakeRuntime("hel", "lo", " world")
	b := newTestBackend(t, rt, EvictNone)

	var texts []string
	var final *chat.Message
	err := b.Stream(context.Background(), userRequest("hi"), func(d backend.Delta) error {
		switch d.Type {
		case backend.DeltaText:
			texts = append(texts, d.Text)
		case backend.DeltaDone:
			final = d.Message
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"hel", "lo", " world"}, texts)
	require.NotNil(t, final)
	assert.Equal(t, "hello world", final.Content)
	assert.Equal(t, chat.RoleAssistant, final.Role)
}

func TestStreamCallbackErrorStopsDecoding(t *testing.T) {
	rt := newFakeRuntime("a", "b", "c", "d")
	b := newTestBackend(t, rt, EvictNone)

	wantErr := errors.New("consumer gone")
	count := 0
	err := b.Stream(context.Background(), userRequest("hi"), func(d backend.Delta) error {
		if d.Type != backend.DeltaText {
			return nil
		}
		count++
		if count == 2 {
			return wantErr
		}
		return nil
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 2, count)
}

func TestGenerateFailureStillAppliesPolicy(t *testing.T) {
	rt := newFakeRuntime()
	rt.generateErr = errors.New("decode blew up")
	b := newTestBackend(t, rt, EvictFull)

	_, err := b.Complete(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUnavailable)
	// The call was issued, so the eviction policy still ran.
	assert.Equal(t, ResidencyUnloaded, b.Lifecycle().Residency())
}

func TestBuildPromptOrdersRolesAndAttachments(t *testing.T) {
	req := backend.Request{
		System: "be brief",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "look at this", Attachments: []chat.Attachment{{Path: "/tmp/cat.png"}}},
			{Role: chat.RoleAssistant, Content: "a cat"},
		},
	}
	prompt := buildPrompt(req)

	require.Contains(t, prompt, "<|system|>\nbe brief")
	require.Contains(t, prompt, "[image cat.png]")
	assert.Less(t, strings.Index(prompt, "[image cat.png]"), strings.Index(prompt, "look at this"))
	assert.True(t, strings.HasSuffix(prompt, "<|assistant|>\n"))
}
