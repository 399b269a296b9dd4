package ime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStateState(t *testing.T) {
	tests := []struct {
		active string
		want   State
	}{
		{"", StateUnknown},
		{"pinyin", StateTarget},
		{"keyboard-us", StateFallback},
		{"mozc", StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.active, func(t *testing.T) {
			s := SyncState{ActiveIM: tt.active, TargetIM: "pinyin", FallbackIM: "keyboard-us"}
			assert.Equal(t, tt.want, s.State())
		})
	}
}

func TestCacheReadIsSnapshot(t *testing.T) {
	c := NewCache("pinyin", "keyboard-us")
	snap := c.Read()
	snap.ActiveIM = "mozc"

	assert.Equal(t, "", c.Read().ActiveIM)

	c.observe("pinyin")
	assert.Equal(t, "pinyin", c.Read().ActiveIM)
	assert.False(t, c.Read().Updated.IsZero())
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache("pinyin", "keyboard-us")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.observe(fmt.Sprintf("im-%d", i))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Read().State()
			}
		}()
	}
	wg.Wait()
	assert.NotEmpty(t, c.Read().ActiveIM)
}

func TestListenerConfirmationAndExternal(t *testing.T) {
	c := NewCache("pinyin", "keyboard-us")
	c.Write(func(s *SyncState) {
		s.ActiveIM = "keyboard-us"
		s.LastLocalAction = "pinyin"
	})
	l := NewListener(c, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.apply(Change{NewActive: "pinyin"})
	assert.Equal(t, "pinyin", c.Read().ActiveIM)

	l.apply(Change{NewActive: ""})
	assert.Equal(t, "pinyin", c.Read().ActiveIM)

	l.apply(Change{NewActive: "mozc"})
	st := c.Read()
	assert.Equal(t, "mozc", st.ActiveIM)
	assert.Equal(t, "pinyin", st.LastLocalAction)
}

func TestCommandErrorKinds(t *testing.T) {
	cause := errors.New("org.freedesktop.DBus.Error.NoReply")
	err := fmt.Errorf("toggle: %w", NewCommandError("activate", "pinyin", ErrTimeout, cause))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrTimeout, KindOf(err))
	assert.Nil(t, KindOf(errors.New("other")))
	assert.Contains(t, err.Error(), "activate pinyin")

	var cerr *CommandError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "pinyin", cerr.Name)
}

func TestModeAndStateStrings(t *testing.T) {
	assert.Equal(t, "insert", ModeInsert.String())
	assert.Equal(t, "other", ModeOther.String())
	assert.Equal(t, "target", StateTarget.String())
	assert.Equal(t, "fallback", StateFallback.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}
