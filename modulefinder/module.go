// Package modulefinder lists the code modules loaded into a Linux process
// together with the identifiers a symbol server needs to find their debug
// information.
//
// Modules are discovered from the kernel memory map and identified by
// reading the ELF headers that are already mapped in memory, so no file is
// opened besides the procfs entries of the process:
//
//	snapshot := modulefinder.GetModules()
//	for _, m := range snapshot.Modules() {
//		fmt.Println(m.CodeFile, m.DebugID)
//	}
//
// GetModules caches its result for the lifetime of the process. Call
// ClearModuleCache after loading or unloading libraries to pick them up.
package modulefinder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const TypeELF = "elf"

// Addr is an address rendered as 0x-prefixed hex in JSON.
type Addr uint64

func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Addr) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(b), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", b, err)
	}
	*a = Addr(v)
	return nil
}

// Module describes one loaded image.
type Module struct {
	Type      string    `json:"type"`
	ImageAddr Addr      `json:"image_addr"`
	ImageSize uint64    `json:"image_size"`
	CodeFile  string    `json:"code_file"`
	CodeID    string    `json:"code_id,omitempty"` // hex encoded build id, empty without one
	DebugID   uuid.UUID `json:"debug_id"`
}

// Snapshot is an immutable list of modules. A snapshot is shared by all the
// callers that obtained it and stays valid after the cache is cleared.
type Snapshot struct {
	modules []Module
}

func NewSnapshot(modules []Module) *Snapshot {
	return &Snapshot{modules: append([]Module(nil), modules...)}
}

func (s *Snapshot) Len() int {
	return len(s.modules)
}

func (s *Snapshot) At(i int) Module {
	return s.modules[i]
}

// Modules returns a copy of the list.
func (s *Snapshot) Modules() []Module {
	return append([]Module(nil), s.modules...)
}

// Find returns the module mapped at addr, if any.
func (s *Snapshot) Find(addr uint64) (Module, bool) {
	for _, m := range s.modules {
		if addr >= uint64(m.ImageAddr) && addr-uint64(m.ImageAddr) < m.ImageSize {
			return m, true
		}
	}
	return Module{}, false
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	if s.modules == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.modules)
}
