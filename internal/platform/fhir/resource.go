// Package fhir holds the wire model the portal exchanges with the upstream
// FHIR server, together with a thin REST client. Only the datatypes the
// portal actually reads or writes are modelled; resources are decoded into
// domain-owned structs that embed these types.
package fhir

import (
	"encoding/json"
	"time"
)

// Resource is the base FHIR resource envelope.
type Resource struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Meta         *Meta       `json:"meta,omitempty"`
	Extension    []Extension `json:"extension,omitempty"`
}

type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// HasCoding reports whether the concept carries the given system/code pair.
func (c CodeableConcept) HasCoding(system, code string) bool {
	for _, coding := range c.Coding {
		if coding.System == system && coding.Code == code {
			return true
		}
	}
	return false
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
	Period *Period          `json:"period,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Prefix []string `json:"prefix,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

type Address struct {
	Use        string   `json:"use,omitempty"`
	Type       string   `json:"type,omitempty"`
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	District   string   `json:"district,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

type ContactPoint struct {
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
	Use    string `json:"use,omitempty"`
	Rank   int    `json:"rank,omitempty"`
}

type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

type Extension struct {
	URL          string `json:"url"`
	ValueString  string `json:"valueString,omitempty"`
	ValueCode    string `json:"valueCode,omitempty"`
	ValueBoolean *bool  `json:"valueBoolean,omitempty"`
	ValueInteger *int   `json:"valueInteger,omitempty"`
}

// FindExtension returns the first extension with the given URL, or nil.
func FindExtension(exts []Extension, url string) *Extension {
	for i := range exts {
		if exts[i].URL == url {
			return &exts[i]
		}
	}
	return nil
}

// SetBoolExtension upserts a boolean extension, replacing any existing
// extension with the same URL.
func SetBoolExtension(exts []Extension, url string, value bool) []Extension {
	for i := range exts {
		if exts[i].URL == url {
			exts[i] = Extension{URL: url, ValueBoolean: &value}
			return exts
		}
	}
	return append(exts, Extension{URL: url, ValueBoolean: &value})
}

// BoolExtension reports whether the extension with the given URL is present
// and set to true.
func BoolExtension(exts []Extension, url string) bool {
	ext := FindExtension(exts, url)
	return ext != nil && ext.ValueBoolean != nil && *ext.ValueBoolean
}

// Bundle is a FHIR Bundle as returned by search interactions. The portal
// only consumes searchsets, so request/response entry components are not
// modelled.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// Resources invokes decode for every match entry of a searchset. Entries
// flagged as include or outcome are skipped.
func (b *Bundle) Resources(decode func(raw json.RawMessage) error) error {
	for _, entry := range b.Entry {
		if entry.Search != nil && entry.Search.Mode != "" && entry.Search.Mode != "match" {
			continue
		}
		if len(entry.Resource) == 0 {
			continue
		}
		if err := decode(entry.Resource); err != nil {
			return err
		}
	}
	return nil
}
