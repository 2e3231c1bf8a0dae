package security

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPolicy_DenyAllByDefault verifies the secure default: a fresh policy
// rejects every command and every URL.
func TestPolicy_DenyAllByDefault(t *testing.T) {
	policy := NewPolicy()

	assert.False(t, policy.IsCommandAllowed("/bin/echo"))
	assert.False(t, policy.IsURLAllowed("https://example.com"))

	err := policy.ValidateCommand("/bin/echo", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCommandNotAllowed))
}

func TestPolicy_AllowedCommands(t *testing.T) {
	policy := NewPolicy()
	require.NoError(t, policy.SetAllowedCommands([]string{"/bin/echo", "/usr/bin/python3"}))

	assert.True(t, policy.IsCommandAllowed("/bin/echo"))
	assert.True(t, policy.IsCommandAllowed("/usr/bin/python3"))
	// 精确匹配，前缀不放行
	assert.False(t, policy.IsCommandAllowed("/bin/echoo"))
	assert.False(t, policy.IsCommandAllowed("/bin"))

	assert.NoError(t, policy.ValidateCommand("/bin/echo", []string{"hello", "world"}))
}

// TestPolicy_UnsafeArguments verifies that shell metacharacters and path
// traversal tokens in arguments are rejected even for allowed commands.
func TestPolicy_UnsafeArguments(t *testing.T) {
	policy := NewPolicy()
	require.NoError(t, policy.SetAllowedCommands([]string{"/bin/echo"}))

	for _, arg := range []string{"../etc/passwd", "a|b", "a;b", "a&b", "a`b`", "$HOME"} {
		err := policy.ValidateCommand("/bin/echo", []string{arg})
		require.Error(t, err, "argument %q should be rejected", arg)
		assert.True(t, errors.Is(err, ErrUnsafeArgument))
	}
}

func TestPolicy_URLPrefixMatch(t *testing.T) {
	policy := NewPolicy()
	require.NoError(t, policy.SetAllowedURLs([]string{"https://internal.example.com/"}))

	assert.True(t, policy.IsURLAllowed("https://internal.example.com/api/v1"))
	assert.False(t, policy.IsURLAllowed("https://evil.example.com/"))
	assert.True(t, errors.Is(policy.ValidateURL("http://other"), ErrURLNotAllowed))
}

// TestPolicy_LockSemantics verifies that a locked policy rejects all
// further modification but keeps serving lookups.
func TestPolicy_LockSemantics(t *testing.T) {
	policy := NewPolicy()
	require.NoError(t, policy.SetAllowedCommands([]string{"/bin/echo"}))

	policy.Lock()
	assert.True(t, policy.Locked())

	err := policy.SetAllowedCommands([]string{"/bin/sh"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPolicyLocked))
	assert.True(t, errors.Is(policy.SetAllowedURLs([]string{"x"}), ErrPolicyLocked))

	// 锁定前的配置继续生效
	assert.True(t, policy.IsCommandAllowed("/bin/echo"))
	assert.False(t, policy.IsCommandAllowed("/bin/sh"))
}

func TestPolicy_ServingDisabled(t *testing.T) {
	policy := NewPolicy()
	assert.False(t, policy.ServingDisabled())

	policy.SetServingDisabled(true)
	assert.True(t, policy.ServingDisabled())

	policy.SetServingDisabled(false)
	assert.False(t, policy.ServingDisabled())
}

// TestPolicy_ConcurrentAccess hammers the policy from readers and writers
// simultaneously; the race detector is the actual assertion here.
func TestPolicy_ConcurrentAccess(t *testing.T) {
	policy := NewPolicy()
	require.NoError(t, policy.SetAllowedCommands([]string{"/bin/echo"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				policy.IsCommandAllowed("/bin/echo")
				policy.ServingDisabled()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				policy.SetServingDisabled(j%2 == 0)
				_ = policy.SetAllowedCommands([]string{"/bin/echo"})
			}
		}()
	}
	wg.Wait()
}
