package api

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/canbridge/usbcan/wire"
)

// Profile is one named, persisted (nominal timing, data timing, filter
// list) tuple the console UI can apply by name (spec §4.6 [ADD],
// §GLOSSARY "Profile") — supplementing CANableDemo.cpp's saved
// bitrate/filter presets, which the distilled spec does not mention.
type Profile struct {
	Name    string
	Nominal wire.BitTiming
	Data    wire.BitTiming
	HasData bool
	Filters []wire.MaskFilter
}

// ProfileStore loads and saves named profiles from an INI file, one
// section per profile, following the same section-per-entry shape
// samsamfire-gocanopen's EDS parser reads object-dictionary entries
// from.
type ProfileStore struct {
	path string
}

// NewProfileStore binds a store to path; the file need not exist yet.
func NewProfileStore(path string) *ProfileStore {
	return &ProfileStore{path: path}
}

// Load reads every profile section from the backing file.
func (s *ProfileStore) Load() ([]Profile, error) {
	cfg, err := ini.Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("usbcan: load profile store: %w", err)
	}

	var profiles []Profile
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		p := Profile{
			Name: section.Name(),
			Nominal: wire.BitTiming{
				BRP:  readU32(section, "nominal_brp"),
				Seg1: readU32(section, "nominal_seg1"),
				Seg2: readU32(section, "nominal_seg2"),
				SJW:  readU32(section, "nominal_sjw"),
			},
		}
		if section.HasKey("data_brp") {
			p.HasData = true
			p.Data = wire.BitTiming{
				BRP:  readU32(section, "data_brp"),
				Seg1: readU32(section, "data_seg1"),
				Seg2: readU32(section, "data_seg2"),
				SJW:  readU32(section, "data_sjw"),
			}
		}
		p.Filters = parseFilters(section)
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func readU32(section *ini.Section, key string) uint32 {
	v, _ := section.Key(key).Uint()
	return uint32(v)
}

func parseFilters(section *ini.Section) []wire.MaskFilter {
	n, _ := section.Key("filter_count").Uint()
	filters := make([]wire.MaskFilter, 0, n)
	for i := 0; i < int(n); i++ {
		scope, _ := section.Key(fmt.Sprintf("filter_%d_scope", i)).Uint()
		accept, _ := section.Key(fmt.Sprintf("filter_%d_accept", i)).Uint()
		mask, _ := section.Key(fmt.Sprintf("filter_%d_mask", i)).Uint()
		filters = append(filters, wire.MaskFilter{
			Scope:  wire.FilterScope(scope),
			Accept: uint32(accept),
			Mask:   uint32(mask),
		})
	}
	return filters
}

// Save writes profiles to the backing file, overwriting it.
func (s *ProfileStore) Save(profiles []Profile) error {
	cfg := ini.Empty()
	for _, p := range profiles {
		section, err := cfg.NewSection(p.Name)
		if err != nil {
			return fmt.Errorf("usbcan: save profile %q: %w", p.Name, err)
		}
		putU32(section, "nominal_brp", p.Nominal.BRP)
		putU32(section, "nominal_seg1", p.Nominal.Seg1)
		putU32(section, "nominal_seg2", p.Nominal.Seg2)
		putU32(section, "nominal_sjw", p.Nominal.SJW)
		if p.HasData {
			putU32(section, "data_brp", p.Data.BRP)
			putU32(section, "data_seg1", p.Data.Seg1)
			putU32(section, "data_seg2", p.Data.Seg2)
			putU32(section, "data_sjw", p.Data.SJW)
		}
		section.NewKey("filter_count", fmt.Sprintf("%d", len(p.Filters)))
		for i, f := range p.Filters {
			section.NewKey(fmt.Sprintf("filter_%d_scope", i), fmt.Sprintf("%d", f.Scope))
			section.NewKey(fmt.Sprintf("filter_%d_accept", i), fmt.Sprintf("%d", f.Accept))
			section.NewKey(fmt.Sprintf("filter_%d_mask", i), fmt.Sprintf("%d", f.Mask))
		}
	}
	if err := cfg.SaveTo(s.path); err != nil {
		return fmt.Errorf("usbcan: save profile store: %w", err)
	}
	return nil
}

func putU32(section *ini.Section, key string, v uint32) {
	section.NewKey(key, fmt.Sprintf("%d", v))
}
