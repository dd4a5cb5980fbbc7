package modubot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedModule struct{ name string }

func (m *namedModule) Name() string { return m.name }

func TestCatalog_Register(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register("music", func() Module { return &namedModule{"music"} }))
	require.NoError(t, catalog.Register("permission", func() Module { return &namedModule{"permission"} }))

	assert.ErrorIs(t, catalog.Register("music", func() Module { return &namedModule{"music"} }), ErrDuplicateFactory)
	assert.ErrorIs(t, catalog.Register("radio", nil), ErrNilFactory)
	assert.Equal(t, []string{"music", "permission"}, catalog.Names())

	assert.Panics(t, func() { catalog.MustRegister("music", func() Module { return nil }) })
}

func TestLoader_Resolve(t *testing.T) {
	catalog := NewCatalog()
	catalog.MustRegister("music", func() Module { return &namedModule{"music"} })
	catalog.MustRegister("nil", func() Module { return nil })
	catalog.MustRegister("liar", func() Module { return &namedModule{"other"} })
	catalog.MustRegister("panics", func() Module { panic("boom") })
	loader := NewLoader(catalog)

	first, err := loader.Resolve("music")
	require.NoError(t, err)
	second, err := loader.Resolve("music")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "every resolution yields a fresh instance")

	tests := []struct {
		name string
		want error
	}{
		{"ghost", ErrModuleNotFound},
		{"nil", ErrNilModule},
		{"liar", ErrNameMismatch},
		{"panics", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, err := loader.Resolve(tt.name)
			assert.Nil(t, module)

			var resolveErr *ResolveError
			require.ErrorAs(t, err, &resolveErr)
			assert.Equal(t, tt.name, resolveErr.Module)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestModuleConfig_Decode(t *testing.T) {
	type target struct {
		CacheDir   string `yaml:"cache_dir"`
		MaxEntries int    `yaml:"max_entries"`
		Grants     map[string]string
	}

	var got target
	require.NoError(t, ModuleConfig{
		"cache_dir":   "audio",
		"max_entries": 12,
		"grants":      map[string]any{"42": "PermissivePerm"},
		"unknown":     true,
	}.Decode(&got))
	assert.Equal(t, target{CacheDir: "audio", MaxEntries: 12, Grants: map[string]string{"42": "PermissivePerm"}}, got)

	untouched := target{CacheDir: "keep"}
	require.NoError(t, ModuleConfig(nil).Decode(&untouched))
	assert.Equal(t, "keep", untouched.CacheDir)

	assert.ErrorIs(t, ModuleConfig{"max_entries": "many"}.Decode(&got), ErrConfigDecode)
}
