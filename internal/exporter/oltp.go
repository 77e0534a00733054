package exporter

import (
	"github.com/VladMinzatu/modulefinder/modulefinder"
	collectorpb "go.opentelemetry.io/proto/otlp/collector/profiles/v1development"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
)

type NowFunc func() uint64 // produces unix nsec

// BuildOltpProfile renders the module list as an OTLP profile. Every module is
// a mapping with one location at its base address; the sample at that
// location carries the image size.
func BuildOltpProfile(modules []modulefinder.Module, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "image_size"),
		UnitStrindex: strIndex(&stringTable, "bytes"),
	}

	samples := make([]*profilespb.Sample, 0, len(modules))
	for _, m := range modules {
		fileIdx := strIndex(&stringTable, m.CodeFile)
		mappingTable = append(mappingTable, &profilespb.Mapping{
			MemoryStart:      uint64(m.ImageAddr),
			MemoryLimit:      uint64(m.ImageAddr) + m.ImageSize,
			FileOffset:       0,
			FilenameStrindex: fileIdx,
		})
		mappingIdx := int32(len(mappingTable) - 1)

		functionTable = append(functionTable, &profilespb.Function{
			NameStrindex:       fileIdx,
			SystemNameStrindex: fileIdx,
			FilenameStrindex:   fileIdx,
		})
		fnIdx := int32(len(functionTable) - 1)

		locationTable = append(locationTable, &profilespb.Location{
			Address:      uint64(m.ImageAddr),
			MappingIndex: mappingIdx,
			Lines:        []*profilespb.Line{{FunctionIndex: fnIdx}},
		})
		locIdx := int32(len(locationTable) - 1)

		stackTable = append(stackTable, &profilespb.Stack{LocationIndices: []int32{locIdx}})
		stackIdx := int32(len(stackTable) - 1)

		samples = append(samples, &profilespb.Sample{
			StackIndex:         stackIdx,
			Values:             []int64{int64(m.ImageSize)},
			AttributeIndices:   []int32{},
			TimestampsUnixNano: []uint64{nowNsec},
		})
	}

	profile := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		SampleType:   sampleType,
		Samples:      samples,
	}

	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: &resourceV1.Resource{},
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope: &v1.InstrumentationScope{
					Name:    "modulefinder",
					Version: "v1",
				},
				Profiles: []*profilespb.Profile{profile},
			},
		},
	}

	dictionary := &profilespb.ProfilesDictionary{
		MappingTable:  mappingTable,
		LocationTable: locationTable,
		FunctionTable: functionTable,
		StackTable:    stackTable,
		StringTable:   stringTable,
	}

	return &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{resourceProfiles},
		Dictionary:       dictionary,
	}
}

// ExportRequest wraps the profiles in the message a collector accepts.
func ExportRequest(data *profilespb.ProfilesData) *collectorpb.ExportProfilesServiceRequest {
	return &collectorpb.ExportProfilesServiceRequest{
		ResourceProfiles: data.ResourceProfiles,
		Dictionary:       data.Dictionary,
	}
}

func strIndex(table *[]string, s string) int32 {
	for i, v := range *table {
		if v == s {
			return int32(i)
		}
	}
	*table = append(*table, s)
	return int32(len(*table) - 1)
}
