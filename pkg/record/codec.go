package record

import (
	"math"
	"reflect"

	"github.com/golang/protobuf/proto"
)

// All record fields are varint encoded.
const wireVarint = 0

type fieldInfo struct {
	name  string
	tag   int
	index int
	wire  int
	kind  reflect.Kind
	enum  bool
}

type schema struct {
	name    string
	version uint32
	typ     reflect.Type
	fields  []fieldInfo
	byTag   map[int]*fieldInfo
	byName  map[string]*fieldInfo
	devOnly map[string]bool
}

var (
	directionType = reflect.TypeOf(DirectionUnset)

	configSchema = newSchema("config", ConfigVersion, reflect.TypeOf(ConfigRecord{}))
	stateSchema  = newSchema("state", StateVersion, reflect.TypeOf(StateRecord{}),
		"pulse_count_enable", "pulse_count")
)

func newSchema(name string, version uint32, t reflect.Type, deviceOwned ...string) *schema {
	s := &schema{
		name:    name,
		version: version,
		typ:     t,
		byTag:   make(map[int]*fieldInfo),
		byName:  make(map[string]*fieldInfo),
		devOnly: make(map[string]bool),
	}
	props := proto.GetProperties(t)
	for i, p := range props.Prop {
		if p.Tag == 0 {
			continue
		}
		ft := t.Field(i).Type
		s.fields = append(s.fields, fieldInfo{
			name:  p.OrigName,
			tag:   p.Tag,
			index: i,
			wire:  p.WireType,
			kind:  ft.Kind(),
			enum:  ft == directionType,
		})
	}
	for i := range s.fields {
		f := &s.fields[i]
		s.byTag[f.tag] = f
		s.byName[f.name] = f
	}
	for _, name := range deviceOwned {
		s.devOnly[name] = true
	}
	return s
}

// ConfigFieldNames lists the field names of the config record.
func ConfigFieldNames() []string { return configSchema.names() }

// StateFieldNames lists the field names of the state record.
func StateFieldNames() []string { return stateSchema.names() }

func (s *schema) names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

func (s *schema) decodeErr(field string, offset int, err error) *DecodeError {
	return &DecodeError{Record: s.name, Field: field, Offset: offset, Err: err}
}

// check walks the encoded fields and validates them against the schema
// before anything is unmarshaled.
func (s *schema) check(data []byte) error {
	var versionSeen bool
	for off := 0; off < len(data); {
		key, n := proto.DecodeVarint(data[off:])
		if n == 0 {
			return s.decodeErr("", off, varintErr(data[off:]))
		}
		tag, wire := int(key>>3), int(key&7)
		f := s.byTag[tag]
		if f == nil {
			return s.decodeErr("", off, errUnknownField)
		}
		if wire != f.wire || wire != wireVarint {
			return s.decodeErr(f.name, off, errWireType)
		}
		val, m := proto.DecodeVarint(data[off+n:])
		if m == 0 {
			return s.decodeErr(f.name, off, varintErr(data[off+n:]))
		}
		if err := f.checkValue(val); err != nil {
			return s.decodeErr(f.name, off, err)
		}
		if f.name == "version" {
			if uint32(val) != s.version {
				return s.decodeErr(f.name, off, errVersion)
			}
			versionSeen = true
		}
		off += n + m
	}
	if !versionSeen {
		return s.decodeErr("version", len(data), errVersion)
	}
	return nil
}

func (f *fieldInfo) checkValue(val uint64) error {
	switch f.kind {
	case reflect.Bool:
		if val > 1 {
			return errValueOutOfRange
		}
	case reflect.Uint32:
		if val > math.MaxUint32 {
			return errValueOutOfRange
		}
	case reflect.Int32:
		if v := int64(val); v < math.MinInt32 || v > math.MaxInt32 {
			return errValueOutOfRange
		}
		if f.enum && !Direction(int64(val)).IsValid() {
			return errDirectionValue
		}
	}
	return nil
}

func varintErr(b []byte) error {
	if len(b) < 10 {
		for _, c := range b {
			if c < 0x80 {
				return errBadVarint
			}
		}
		return errTruncated
	}
	return errBadVarint
}

func marshal(msg proto.Message) []byte {
	data, err := proto.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}

// EncodeConfig encodes the config record.
// A zero version is stamped with ConfigVersion.
func EncodeConfig(rec ConfigRecord) []byte {
	if rec.Version == 0 {
		rec.Version = ConfigVersion
	}
	return marshal(&rec)
}

// DecodeConfig decodes the config record.
func DecodeConfig(data []byte) (rec ConfigRecord, err error) {
	if err = configSchema.check(data); err != nil {
		return
	}
	var decoded ConfigRecord
	if err = proto.Unmarshal(data, &decoded); err != nil {
		return rec, configSchema.decodeErr("", 0, err)
	}
	return decoded, nil
}

// EncodeState encodes the state record.
// A zero version is stamped with StateVersion.
func EncodeState(rec StateRecord) []byte {
	if rec.Version == 0 {
		rec.Version = StateVersion
	}
	return marshal(&rec)
}

// DecodeState decodes the state record.
func DecodeState(data []byte) (rec StateRecord, err error) {
	if err = stateSchema.check(data); err != nil {
		return
	}
	var decoded StateRecord
	if err = proto.Unmarshal(data, &decoded); err != nil {
		return rec, stateSchema.decodeErr("", 0, err)
	}
	return decoded, nil
}
