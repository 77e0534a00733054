package modulefinder

import (
	"errors"
	"fmt"
	"os"

	"github.com/VladMinzatu/modulefinder/internal/procmaps"
	"github.com/VladMinzatu/modulefinder/internal/procmem"
)

var ErrNotELF = errors.New("not an ELF image")

// Files are "mapped" at this address so that the image never starts at zero.
const fileBase = 0x10000

// DescribeFile identifies an ELF file on disk the same way a loaded module
// is identified. The returned module has a zero ImageAddr and the file size
// as ImageSize.
func DescribeFile(path string) (Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Module{}, fmt.Errorf("reading %s: %w", path, err)
	}
	mem := &procmem.Buffer{Base: fileBase, Data: data}
	m := procmaps.NewModule([]byte(path), procmaps.Region{Offset: 0, Size: uint64(len(data)), Addr: fileBase})

	mod, ok := describe(m, mem)
	if !ok {
		return Module{}, fmt.Errorf("%s: %w", path, ErrNotELF)
	}
	mod.ImageAddr = 0
	return mod, nil
}
