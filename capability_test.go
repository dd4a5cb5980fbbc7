package modubot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityRegistry_PublishLookup(t *testing.T) {
	r := NewCapabilityRegistry()

	_, ok := r.Lookup("DefaultPerm", "canSummon")
	assert.False(t, ok)

	r.Publish("DefaultPerm", "canSummon", "False")
	r.Publish("DefaultPerm", "canSummon", "True")
	value, ok := r.Lookup("DefaultPerm", "canSummon")
	require.True(t, ok)
	assert.Equal(t, "True", value, "last write wins")

	s, ok := r.LookupString("DefaultPerm", "canSummon")
	assert.True(t, ok)
	assert.Equal(t, "True", s)

	r.Publish("limits", "max", 3)
	_, ok = r.LookupString("limits", "max")
	assert.False(t, ok)

	assert.Equal(t, []string{"DefaultPerm", "limits"}, r.Namespaces())
	assert.Equal(t, map[string]any{"canSummon": "True"}, r.Namespace("DefaultPerm"))
	assert.Empty(t, r.Namespace("missing"))
}

func TestCapabilityRegistry_LookupBool(t *testing.T) {
	r := NewCapabilityRegistry()
	r.Publish("p", "native", true)
	r.Publish("p", "upper", "True")
	r.Publish("p", "lower", "false")
	r.Publish("p", "garbage", "maybe")
	r.Publish("p", "number", 1)

	tests := []struct {
		key    string
		want   bool
		wantOK bool
	}{
		{"native", true, true},
		{"upper", true, true},
		{"lower", false, true},
		{"garbage", false, false},
		{"number", false, false},
		{"missing", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := r.LookupBool("p", tt.key)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestCapabilityRegistry_Ownership(t *testing.T) {
	r := NewCapabilityRegistry()
	modules := newModuleRegistry()
	music := r.Scoped("music", modules)
	radio := r.Scoped("radio", modules)

	music.Publish("PermissivePerm", "canSummon", "True")
	music.Publish("DefaultPerm", "canSummon", "False")
	radio.Publish("DefaultPerm", "canSummon", "True")
	r.Publish("host", "prefix", "!")

	assert.Equal(t, "music", music.Owner())
	assert.Equal(t, []CapabilityKey{{Namespace: "PermissivePerm", Key: "canSummon"}}, r.OwnedBy("music"))

	removed := r.RemoveOwnedBy("music")
	assert.Equal(t, []CapabilityKey{{Namespace: "PermissivePerm", Key: "canSummon"}}, removed)

	value, ok := r.Lookup("DefaultPerm", "canSummon")
	require.True(t, ok, "entries overwritten by another module survive")
	assert.Equal(t, "True", value)
	_, ok = r.Lookup("PermissivePerm", "canSummon")
	assert.False(t, ok)
	assert.Equal(t, []string{"DefaultPerm", "host"}, r.Namespaces())

	assert.Nil(t, r.RemoveOwnedBy(""), "unowned entries are never bulk removed")
	_, ok = r.Lookup("host", "prefix")
	assert.True(t, ok)

	r.Clear()
	assert.Empty(t, r.Namespaces())
}

func TestCapabilityRegistry_PublishHook(t *testing.T) {
	r := NewCapabilityRegistry()
	var got []string
	r.onPublish = func(owner string, key CapabilityKey) {
		got = append(got, owner+"/"+key.Namespace+"."+key.Key)
	}

	r.Publish("host", "prefix", "!")
	r.Scoped("music", newModuleRegistry()).Publish("DefaultPerm", "canSummon", "False")
	assert.Equal(t, []string{"/host.prefix", "music/DefaultPerm.canSummon"}, got)
}

func TestScopedCapabilities_ListModules(t *testing.T) {
	modules := newModuleRegistry()
	scoped := NewCapabilityRegistry().Scoped("music", modules)
	assert.Empty(t, scoped.ListModules())

	modules.add(&ModuleRecord{Name: "permission"})
	modules.add(&ModuleRecord{Name: "music"})
	assert.Equal(t, []string{"permission", "music"}, scoped.ListModules())

	assert.True(t, modules.remove("permission"))
	assert.False(t, modules.remove("permission"))
	assert.Equal(t, []string{"music"}, scoped.ListModules())
	assert.Equal(t, 1, modules.Len())
}
