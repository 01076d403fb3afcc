// internal/browser/options_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/tandem-cli/internal/config"
)

func flagValue(flags []allocatorFlag, name string) (interface{}, bool) {
	var (
		value interface{}
		found bool
	)
	for _, f := range flags {
		if f.Name == name {
			value, found = f.Value, true
		}
	}
	return value, found
}

func TestAllocatorFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{})

		v, _ := flagValue(flags, "headless")
		assert.Equal(t, false, v)
		v, _ = flagValue(flags, "window-size")
		assert.Equal(t, "1920,1080", v)
		v, _ = flagValue(flags, "user-agent")
		assert.Equal(t, defaultUserAgent, v)
		_, found := flagValue(flags, "user-data-dir")
		assert.False(t, found)
		_, found = flagValue(flags, "profile-directory")
		assert.False(t, found, "profile directory only applies with a user data dir")
	})

	t.Run("headless and viewport", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			Headless: true,
			Viewport: map[string]int{"width": 1280, "height": 720},
		})
		v, _ := flagValue(flags, "headless")
		assert.Equal(t, true, v)
		v, _ = flagValue(flags, "window-size")
		assert.Equal(t, "1280,720", v)
	})

	t.Run("persistent profile", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{UserDataDir: "/tmp/profile", ProfileDirectory: "Profile 2"})
		v, _ := flagValue(flags, "user-data-dir")
		assert.Equal(t, "/tmp/profile", v)
		v, _ = flagValue(flags, "profile-directory")
		assert.Equal(t, "Profile 2", v)
	})

	t.Run("custom args override", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			Args: []string{"--disable-gpu", "lang=de-DE", "--window-size=800,600", "  ", "--"},
		})
		v, _ := flagValue(flags, "disable-gpu")
		assert.Equal(t, true, v)
		v, _ = flagValue(flags, "lang")
		assert.Equal(t, "de-DE", v)
		v, _ = flagValue(flags, "window-size")
		assert.Equal(t, "800,600", v, "the last occurrence wins")
	})
}

func TestExecAllocatorOptions(t *testing.T) {
	base := len(ExecAllocatorOptions(config.BrowserConfig{}))
	withExec := len(ExecAllocatorOptions(config.BrowserConfig{ExecutablePath: "/usr/bin/brave-browser"}))
	assert.Equal(t, base+1, withExec)
}
