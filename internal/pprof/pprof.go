package pprof

import (
	"io"
	"time"

	"github.com/VladMinzatu/modulefinder/modulefinder"
	"github.com/google/pprof/profile"
)

// BuildModuleProfile describes the module list as a pprof profile: every
// module becomes a mapping, and a single sample located at the image base
// carries the image size so that `pprof -top` lists the images by size.
func BuildModuleProfile(modules []modulefinder.Module, now time.Time) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "image_size", Unit: "bytes"}},
		PeriodType: &profile.ValueType{Type: "modules", Unit: "count"},
		Period:     1,
		TimeNanos:  now.UnixNano(),
	}
	if len(modules) == 0 {
		return p
	}

	funcs := map[string]*profile.Function{}
	addFunction := func(name string) *profile.Function {
		if f, ok := funcs[name]; ok {
			return f
		}
		fn := &profile.Function{
			ID:       uint64(len(p.Function) + 1),
			Name:     name,
			Filename: name,
		}
		funcs[name] = fn
		p.Function = append(p.Function, fn)
		return fn
	}

	for _, m := range modules {
		mapping := &profile.Mapping{
			ID:      uint64(len(p.Mapping) + 1),
			Start:   uint64(m.ImageAddr),
			Limit:   uint64(m.ImageAddr) + m.ImageSize,
			Offset:  0,
			File:    m.CodeFile,
			BuildID: buildID(m),
		}
		p.Mapping = append(p.Mapping, mapping)

		loc := &profile.Location{
			ID:      uint64(len(p.Location) + 1),
			Mapping: mapping,
			Address: mapping.Start,
			Line:    []profile.Line{{Function: addFunction(m.CodeFile)}},
		}
		p.Location = append(p.Location, loc)

		p.Sample = append(p.Sample, &profile.Sample{
			Value:    []int64{int64(m.ImageSize)},
			Location: []*profile.Location{loc},
			Label: map[string][]string{
				"debug_id": {m.DebugID.String()},
				"type":     {m.Type},
			},
		})
	}
	return p
}

// buildID prefers the ELF build id; modules identified through the .text
// fallback only have a debug id.
func buildID(m modulefinder.Module) string {
	if m.CodeID != "" {
		return m.CodeID
	}
	return m.DebugID.String()
}

// WriteProfile writes p in the gzipped protobuf format pprof reads.
// profile.Write compresses on its own.
func WriteProfile(p *profile.Profile, w io.Writer) error {
	return p.Write(w)
}
