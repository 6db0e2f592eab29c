package dom

import (
	"encoding/xml"
	"time"
)

// Generator is written into <Meta><Generator> of new documents.
const Generator = "go-kdbx"

// MemoryProtection says which well-known entry strings are protected.
type MemoryProtection struct {
	ProtectTitle    bool
	ProtectUserName bool
	ProtectPassword bool
	ProtectURL      bool
	ProtectNotes    bool

	Unknown []RawElement
}

// DefaultMemoryProtection protects passwords only.
func DefaultMemoryProtection() MemoryProtection {
	return MemoryProtection{ProtectPassword: true}
}

// Protects reports the flag for a well-known key. Other keys are never
// protected by default.
func (m MemoryProtection) Protects(key string) bool {
	switch key {
	case KeyTitle:
		return m.ProtectTitle
	case KeyUserName:
		return m.ProtectUserName
	case KeyPassword:
		return m.ProtectPassword
	case KeyURL:
		return m.ProtectURL
	case KeyNotes:
		return m.ProtectNotes
	}
	return false
}

func (m MemoryProtection) Equal(other MemoryProtection) bool {
	return m.ProtectTitle == other.ProtectTitle &&
		m.ProtectUserName == other.ProtectUserName &&
		m.ProtectPassword == other.ProtectPassword &&
		m.ProtectURL == other.ProtectURL &&
		m.ProtectNotes == other.ProtectNotes &&
		rawElementsEqual(m.Unknown, other.Unknown)
}

// Metadata is the <Meta> element.
type Metadata struct {
	Generator string

	// HeaderHash is the base64 SHA-256 of the outer header. Only 3.1
	// files carry it.
	HeaderHash string

	DatabaseName               string
	DatabaseNameChanged        time.Time
	DatabaseDescription        string
	DatabaseDescriptionChanged time.Time
	DefaultUserName            string
	DefaultUserNameChanged     time.Time
	MaintenanceHistoryDays     int
	Color                      string
	MasterKeyChanged           time.Time
	MasterKeyChangeRec         int64
	MasterKeyChangeForce       int64
	MemoryProtection           MemoryProtection
	CustomIcons                *RawElement
	RecycleBinEnabled          bool
	RecycleBinUUID             UUID
	RecycleBinChanged          time.Time
	EntryTemplatesGroup        UUID
	EntryTemplatesGroupChanged time.Time
	HistoryMaxItems            int
	HistoryMaxSize             int64
	LastSelectedGroup          UUID
	LastTopVisibleGroup        UUID

	// Binaries is the attachment pool. Version 3.1 files keep it in
	// <Meta><Binaries>, version 4 files in the inner header.
	Binaries []*Binary

	CustomData CustomData
	Unknown    []RawElement
}

// NewMetadata returns the metadata of a brand new database.
func NewMetadata(name string, now time.Time) *Metadata {
	now = Timestamp(now)
	return &Metadata{
		Generator:                  Generator,
		DatabaseName:               name,
		DatabaseNameChanged:        now,
		DatabaseDescriptionChanged: now,
		DefaultUserNameChanged:     now,
		MaintenanceHistoryDays:     365,
		MasterKeyChanged:           now,
		MasterKeyChangeRec:         -1,
		MasterKeyChangeForce:       -1,
		MemoryProtection:           DefaultMemoryProtection(),
		RecycleBinChanged:          now,
		EntryTemplatesGroupChanged: now,
		HistoryMaxItems:            10,
		HistoryMaxSize:             -1,
	}
}

func (m *Metadata) Equal(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.Binaries) != len(other.Binaries) {
		return false
	}
	for i := range m.Binaries {
		if !m.Binaries[i].Equal(other.Binaries[i]) {
			return false
		}
	}
	return m.Generator == other.Generator &&
		m.DatabaseName == other.DatabaseName &&
		m.DatabaseNameChanged.Equal(other.DatabaseNameChanged) &&
		m.DatabaseDescription == other.DatabaseDescription &&
		m.DatabaseDescriptionChanged.Equal(other.DatabaseDescriptionChanged) &&
		m.DefaultUserName == other.DefaultUserName &&
		m.DefaultUserNameChanged.Equal(other.DefaultUserNameChanged) &&
		m.MaintenanceHistoryDays == other.MaintenanceHistoryDays &&
		m.Color == other.Color &&
		m.MasterKeyChanged.Equal(other.MasterKeyChanged) &&
		m.MasterKeyChangeRec == other.MasterKeyChangeRec &&
		m.MasterKeyChangeForce == other.MasterKeyChangeForce &&
		m.MemoryProtection.Equal(other.MemoryProtection) &&
		m.CustomIcons.Equal(other.CustomIcons) &&
		m.RecycleBinEnabled == other.RecycleBinEnabled &&
		m.RecycleBinUUID == other.RecycleBinUUID &&
		m.RecycleBinChanged.Equal(other.RecycleBinChanged) &&
		m.EntryTemplatesGroup == other.EntryTemplatesGroup &&
		m.EntryTemplatesGroupChanged.Equal(other.EntryTemplatesGroupChanged) &&
		m.HistoryMaxItems == other.HistoryMaxItems &&
		m.HistoryMaxSize == other.HistoryMaxSize &&
		m.LastSelectedGroup == other.LastSelectedGroup &&
		m.LastTopVisibleGroup == other.LastTopVisibleGroup &&
		m.CustomData.Equal(other.CustomData) &&
		rawElementsEqual(m.Unknown, other.Unknown)
}

func (d *decoder) metadata() (*Metadata, error) {
	m := &Metadata{
		HistoryMaxItems:      -1,
		HistoryMaxSize:       -1,
		MasterKeyChangeRec:   -1,
		MasterKeyChangeForce: -1,
	}
	d.meta = m
	err := d.children(func(child xml.StartElement) error {
		var err error
		switch child.Name.Local {
		case "Generator":
			m.Generator, err = d.text()
		case "HeaderHash":
			m.HeaderHash, err = d.text()
		case "DatabaseName":
			m.DatabaseName, err = d.text()
		case "DatabaseNameChanged":
			m.DatabaseNameChanged, err = d.date(child)
		case "DatabaseDescription":
			m.DatabaseDescription, err = d.text()
		case "DatabaseDescriptionChanged":
			m.DatabaseDescriptionChanged, err = d.date(child)
		case "DefaultUserName":
			m.DefaultUserName, err = d.text()
		case "DefaultUserNameChanged":
			m.DefaultUserNameChanged, err = d.date(child)
		case "MaintenanceHistoryDays":
			m.MaintenanceHistoryDays, err = d.intValue(child)
		case "Color":
			m.Color, err = d.text()
		case "MasterKeyChanged":
			m.MasterKeyChanged, err = d.date(child)
		case "MasterKeyChangeRec":
			m.MasterKeyChangeRec, err = d.int64Value(child)
		case "MasterKeyChangeForce":
			m.MasterKeyChangeForce, err = d.int64Value(child)
		case "MemoryProtection":
			m.MemoryProtection, err = d.memoryProtection()
		case "CustomIcons":
			var r RawElement
			r, err = d.raw(child)
			m.CustomIcons = &r
		case "RecycleBinEnabled":
			m.RecycleBinEnabled, err = d.boolValue(child)
		case "RecycleBinUUID":
			m.RecycleBinUUID, err = d.uuid(child)
		case "RecycleBinChanged":
			m.RecycleBinChanged, err = d.date(child)
		case "EntryTemplatesGroup":
			m.EntryTemplatesGroup, err = d.uuid(child)
		case "EntryTemplatesGroupChanged":
			m.EntryTemplatesGroupChanged, err = d.date(child)
		case "HistoryMaxItems":
			m.HistoryMaxItems, err = d.intValue(child)
		case "HistoryMaxSize":
			m.HistoryMaxSize, err = d.int64Value(child)
		case "LastSelectedGroup":
			m.LastSelectedGroup, err = d.uuid(child)
		case "LastTopVisibleGroup":
			m.LastTopVisibleGroup, err = d.uuid(child)
		case "Binaries":
			var pool []*Binary
			pool, err = d.metaBinaries()
			if err == nil && !d.v4 {
				d.pool = pool
			}
		case "CustomData":
			m.CustomData, err = d.customData()
		default:
			var r RawElement
			r, err = d.raw(child)
			m.Unknown = append(m.Unknown, r)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *decoder) memoryProtection() (MemoryProtection, error) {
	var m MemoryProtection
	err := d.children(func(child xml.StartElement) error {
		var err error
		switch child.Name.Local {
		case "ProtectTitle":
			m.ProtectTitle, err = d.boolValue(child)
		case "ProtectUserName":
			m.ProtectUserName, err = d.boolValue(child)
		case "ProtectPassword":
			m.ProtectPassword, err = d.boolValue(child)
		case "ProtectURL":
			m.ProtectURL, err = d.boolValue(child)
		case "ProtectNotes":
			m.ProtectNotes, err = d.boolValue(child)
		default:
			var r RawElement
			r, err = d.raw(child)
			m.Unknown = append(m.Unknown, r)
		}
		return err
	})
	return m, err
}

func (e *encoder) metadata(m *Metadata, pool []*Binary) {
	e.start("Meta")
	e.text("Generator", m.Generator)
	if !e.v4 && m.HeaderHash != "" {
		e.text("HeaderHash", m.HeaderHash)
	}
	e.text("DatabaseName", m.DatabaseName)
	e.date("DatabaseNameChanged", m.DatabaseNameChanged)
	e.text("DatabaseDescription", m.DatabaseDescription)
	e.date("DatabaseDescriptionChanged", m.DatabaseDescriptionChanged)
	e.text("DefaultUserName", m.DefaultUserName)
	e.date("DefaultUserNameChanged", m.DefaultUserNameChanged)
	e.intValue("MaintenanceHistoryDays", m.MaintenanceHistoryDays)
	e.text("Color", m.Color)
	e.date("MasterKeyChanged", m.MasterKeyChanged)
	e.int64Value("MasterKeyChangeRec", m.MasterKeyChangeRec)
	e.int64Value("MasterKeyChangeForce", m.MasterKeyChangeForce)

	mp := m.MemoryProtection
	e.start("MemoryProtection")
	e.boolValue("ProtectTitle", mp.ProtectTitle)
	e.boolValue("ProtectUserName", mp.ProtectUserName)
	e.boolValue("ProtectPassword", mp.ProtectPassword)
	e.boolValue("ProtectURL", mp.ProtectURL)
	e.boolValue("ProtectNotes", mp.ProtectNotes)
	e.raws(mp.Unknown)
	e.end("MemoryProtection")

	e.raw(m.CustomIcons)
	e.boolValue("RecycleBinEnabled", m.RecycleBinEnabled)
	e.uuid("RecycleBinUUID", m.RecycleBinUUID)
	e.date("RecycleBinChanged", m.RecycleBinChanged)
	e.uuid("EntryTemplatesGroup", m.EntryTemplatesGroup)
	e.date("EntryTemplatesGroupChanged", m.EntryTemplatesGroupChanged)
	e.intValue("HistoryMaxItems", m.HistoryMaxItems)
	e.int64Value("HistoryMaxSize", m.HistoryMaxSize)
	e.uuid("LastSelectedGroup", m.LastSelectedGroup)
	e.uuid("LastTopVisibleGroup", m.LastTopVisibleGroup)
	if !e.v4 && len(pool) > 0 {
		e.metaBinaries(pool)
	}
	e.customData(m.CustomData)
	e.raws(m.Unknown)
	e.end("Meta")
}
