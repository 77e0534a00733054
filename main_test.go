package main

import (
	"bytes"
	"debug/elf"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	collectorpb "go.opentelemetry.io/proto/otlp/collector/profiles/v1development"
	"google.golang.org/protobuf/proto"

	"github.com/VladMinzatu/modulefinder/internal/elfid/elftest"
	"github.com/VladMinzatu/modulefinder/modulefinder"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeELF(t *testing.T) string {
	t.Helper()
	id := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	path := filepath.Join(t.TempDir(), "libbar.so")
	require.NoError(t, os.WriteFile(path, elftest.WithBuildID(elf.ELFCLASS64, id).Build(), 0o644))
	return path
}

func TestInspect_JSON(t *testing.T) {
	path := writeELF(t)

	out, err := runCmd(t, "inspect", "--format", "json", path)
	require.NoError(t, err)

	var modules []modulefinder.Module
	require.NoError(t, json.Unmarshal([]byte(out), &modules))
	require.Len(t, modules, 1)
	assert.Equal(t, path, modules[0].CodeFile)
	assert.Equal(t, "aabbccdd0102030405060708", modules[0].CodeID)
}

func TestInspect_Text(t *testing.T) {
	path := writeELF(t)

	out, err := runCmd(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "CODE_FILE")
	assert.Contains(t, out, "aabbccdd0102030405060708")
}

func TestInspect_NotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	_, err := runCmd(t, "inspect", path)
	assert.ErrorIs(t, err, modulefinder.ErrNotELF)
}

func TestList_UnknownFormat(t *testing.T) {
	_, err := runCmd(t, "list", "--format", "yaml")
	assert.ErrorContains(t, err, `unknown format "yaml"`)
}

func TestList_InvalidAddr(t *testing.T) {
	_, err := runCmd(t, "list", "--addr", "nowhere")
	assert.ErrorContains(t, err, "invalid address")
}

func TestList_Self(t *testing.T) {
	if _, err := os.Stat("/proc/self/maps"); err != nil {
		t.Skip("procfs is not available")
	}
	out, err := runCmd(t, "list", "--format", "json")
	require.NoError(t, err)

	var modules []modulefinder.Module
	require.NoError(t, json.Unmarshal([]byte(out), &modules))
	assert.NotEmpty(t, modules)
}

var sampleModules = []modulefinder.Module{
	{Type: modulefinder.TypeELF, ImageAddr: 0x400000, ImageSize: 0x1000, CodeFile: "/usr/bin/app"},
}

func TestWriteModules_Pprof(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeModules(&buf, "pprof", sampleModules, time.Unix(10, 0)))

	p, err := profile.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, p.Mapping, 1)
	assert.Equal(t, "/usr/bin/app", p.Mapping[0].File)
}

func TestWriteModules_OTLP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeModules(&buf, "otlp", sampleModules, time.Unix(10, 0)))

	var req collectorpb.ExportProfilesServiceRequest
	require.NoError(t, proto.Unmarshal(buf.Bytes(), &req))
	require.Len(t, req.Dictionary.MappingTable, 2)
	assert.Equal(t, uint64(0x400000), req.Dictionary.MappingTable[1].MemoryStart)
}
