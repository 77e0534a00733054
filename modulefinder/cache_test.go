package modulefinder

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBuilder struct {
	calls   atomic.Int32
	delay   time.Duration
	modules []Module
}

func (b *countingBuilder) Enumerate() []Module {
	b.calls.Add(1)
	time.Sleep(b.delay)
	return b.modules
}

var testModules = []Module{
	{
		Type:      TypeELF,
		ImageAddr: 0x400000,
		ImageSize: 0x2000,
		CodeFile:  "/usr/bin/app",
		DebugID:   uuid.MustParse("5a1b2c3d-0000-0000-0000-000000000000"),
	},
	{
		Type:      TypeELF,
		ImageAddr: 0x7f0000000000,
		ImageSize: 0x3000,
		CodeFile:  "/usr/lib/libfoo.so",
		CodeID:    "b1b2b3b4",
		DebugID:   uuid.MustParse("b4b3b2b1-0000-0000-0000-000000000000"),
	},
}

func TestCache_GetBuildsOnce(t *testing.T) {
	b := &countingBuilder{modules: testModules}
	c := NewCache(b)

	first := c.Get()
	second := c.Get()

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, testModules, first.Modules())
}

func TestCache_ClearForcesRebuild(t *testing.T) {
	b := &countingBuilder{modules: testModules}
	c := NewCache(b)

	before := c.Get()
	c.Clear()
	after := c.Get()

	assert.NotSame(t, before, after)
	assert.Equal(t, int32(2), b.calls.Load())
	// the old snapshot is still usable
	assert.Equal(t, 2, before.Len())
	assert.Equal(t, "/usr/bin/app", before.At(0).CodeFile)
}

func TestCache_ClearBeforeGet(t *testing.T) {
	b := &countingBuilder{}
	c := NewCache(b)

	c.Clear()
	s := c.Get()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestCache_ConcurrentGet(t *testing.T) {
	b := &countingBuilder{modules: testModules, delay: 20 * time.Millisecond}
	c := NewCache(b)

	const callers = 16
	results := make([]*Snapshot, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Get()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.calls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestSnapshot_Immutable(t *testing.T) {
	modules := append([]Module(nil), testModules...)
	s := NewSnapshot(modules)

	modules[0].CodeFile = "changed"
	out := s.Modules()
	out[1].CodeFile = "changed too"

	assert.Equal(t, "/usr/bin/app", s.At(0).CodeFile)
	assert.Equal(t, "/usr/lib/libfoo.so", s.At(1).CodeFile)
}

func TestSnapshot_Find(t *testing.T) {
	s := NewSnapshot(testModules)

	tests := []struct {
		addr uint64
		want string
		ok   bool
	}{
		{0x400000, "/usr/bin/app", true},
		{0x401fff, "/usr/bin/app", true},
		{0x402000, "", false},
		{0x7f0000001234, "/usr/lib/libfoo.so", true},
		{0x10, "", false},
	}
	for _, tt := range tests {
		m, ok := s.Find(tt.addr)
		assert.Equal(t, tt.ok, ok, "addr 0x%x", tt.addr)
		assert.Equal(t, tt.want, m.CodeFile, "addr 0x%x", tt.addr)
	}
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(NewSnapshot(testModules))
	require.NoError(t, err)

	assert.JSONEq(t, `[
		{
			"type": "elf",
			"image_addr": "0x400000",
			"image_size": 8192,
			"code_file": "/usr/bin/app",
			"debug_id": "5a1b2c3d-0000-0000-0000-000000000000"
		},
		{
			"type": "elf",
			"image_addr": "0x7f0000000000",
			"image_size": 12288,
			"code_file": "/usr/lib/libfoo.so",
			"code_id": "b1b2b3b4",
			"debug_id": "b4b3b2b1-0000-0000-0000-000000000000"
		}
	]`, string(data))

	empty, err := json.Marshal(NewSnapshot(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))

	var decoded []Module
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, testModules, decoded)
}

func TestGetModules_CurrentProcess(t *testing.T) {
	if _, err := os.Stat("/proc/self/maps"); err != nil {
		t.Skip("procfs is not available")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	ClearModuleCache()
	s := GetModules()
	require.NotZero(t, s.Len())
	assert.Same(t, s, GetModules())

	var found bool
	for _, m := range s.Modules() {
		assert.Equal(t, TypeELF, m.Type)
		assert.NotZero(t, m.ImageAddr)
		assert.NotZero(t, m.ImageSize)
		if m.CodeFile == exe {
			found = true
		}
	}
	assert.True(t, found, "test executable %s not among the modules", exe)

	ClearModuleCache()
	assert.NotSame(t, s, GetModules())
}
