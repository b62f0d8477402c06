package models

import (
	"fmt"
	"strconv"

	"github.com/opendiscourse/congress-data-service/internal/value"
)

// FieldKind is the canonical type of a field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindDate
	KindTimestamp
	KindBool
	KindJSON
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeriveFunc computes a field from the raw payload when the source does
// not carry it directly. ok=false leaves the field null.
type DeriveFunc func(raw value.Object) (v value.Value, ok bool)

// Field maps one canonical column to its source.
type Field struct {
	Name     string
	Sources  []string // dotted source paths, first present wins
	Kind     FieldKind
	Key      bool
	Required bool
	Fold     bool   // lower-case string values
	Default  string // used for absent key parts
	Derive   DeriveFunc
}

// Schema is the field-mapping table of one entity type.
type Schema struct {
	Entity EntityType
	Table  string
	Fields []Field

	CongressField string
	SubTypeField  string
	DateField     string
	LawField      string
	TitleFields   []string
}

// KeyFields returns the key fields in key order.
func (s *Schema) KeyFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Key {
			out = append(out, f)
		}
	}
	return out
}

// KeyOf builds the natural key from typed field values.
func (s *Schema) KeyOf(fields map[string]any) NaturalKey {
	var key NaturalKey
	for _, f := range s.KeyFields() {
		key = append(key, FormatKeyPart(fields[f.Name]))
	}
	return key
}

// FormatKeyPart renders a typed key value as a key part.
func FormatKeyPart(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprint(val)
	}
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SchemaFor returns the field-mapping table for an entity type.
func SchemaFor(entity EntityType) (*Schema, error) {
	s, ok := schemas[entity]
	if !ok {
		return nil, fmt.Errorf("no schema for entity type %q", entity)
	}
	return s, nil
}

func key(name string, kind FieldKind, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: kind, Key: true, Required: true}
}

func str(name string, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: KindString}
}

func num(name string, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: KindInt}
}

func date(name string, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: KindDate}
}

func stamp(name string, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: KindTimestamp}
}

func flag(name string, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: KindBool}
}

func blob(name string, sources ...string) Field {
	return Field{Name: name, Sources: sources, Kind: KindJSON}
}

func folded(f Field) Field {
	f.Fold = true
	return f
}

func withDefault(f Field, def string) Field {
	f.Default = def
	f.Required = false
	return f
}

func derived(f Field, fn DeriveFunc) Field {
	f.Derive = fn
	return f
}

var schemas = map[EntityType]*Schema{
	EntityBills: {
		Entity: EntityBills,
		Table:  "bills",
		Fields: []Field{
			key("congress", KindInt, "congress"),
			folded(key("bill_type", KindString, "type", "billType")),
			key("bill_number", KindInt, "number", "billNumber"),
			str("title", "title"),
			str("origin_chamber", "originChamber"),
			str("origin_chamber_code", "originChamberCode"),
			stamp("update_date", "updateDate"),
			stamp("update_date_including_text", "updateDateIncludingText"),
			date("introduced_date", "introducedDate"),
			str("constitution_authority_statement_text", "constitutionAuthorityStatementText"),
			blob("policy_area", "policyArea"),
			blob("subjects", "subjects"),
			blob("latest_action", "latestAction"),
			blob("sponsors", "sponsors"),
			blob("cosponsors", "cosponsors"),
			derived(num("cosponsors_count", "cosponsorsCount"), deriveCosponsorCount),
			blob("committees", "committees"),
			blob("related_bills", "relatedBills"),
			blob("actions", "actions"),
			blob("summaries", "summaries"),
			blob("amendments", "amendments"),
			blob("texts", "texts", "textVersions"),
			blob("titles", "titles"),
			derived(str("law_number"), firstLaw("number")),
			derived(str("law_type"), firstLaw("type")),
			derived(flag("is_law"), deriveIsLaw),
			str("url", "url"),
		},
		CongressField: "congress",
		SubTypeField:  "bill_type",
		DateField:     "introduced_date",
		LawField:      "is_law",
		TitleFields:   []string{"title"},
	},
	EntityMembers: {
		Entity: EntityMembers,
		Table:  "members",
		Fields: []Field{
			key("bioguide_id", KindString, "bioguideId"),
			str("name", "name"),
			str("direct_order_name", "directOrderName"),
			str("first_name", "firstName"),
			str("last_name", "lastName"),
			str("middle_name", "middleName"),
			str("suffix", "suffixName", "suffix"),
			str("nickname", "nickName", "nickname"),
			derived(str("party", "partyName", "party"), lastTerm("partyName", "partyHistory")),
			derived(str("state", "state"), lastTerm("stateName", "terms")),
			num("district", "district"),
			num("birth_year", "birthYear"),
			num("death_year", "deathYear"),
			flag("current_member", "currentMember"),
			blob("terms", "terms"),
			blob("party_history", "partyHistory"),
			blob("depiction", "depiction"),
			blob("sponsored_legislation", "sponsoredLegislation"),
			blob("cosponsored_legislation", "cosponsoredLegislation"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		DateField:   "update_date",
		TitleFields: []string{"name", "direct_order_name", "last_name"},
	},
	EntityAmendments: {
		Entity: EntityAmendments,
		Table:  "amendments",
		Fields: []Field{
			key("congress", KindInt, "congress"),
			folded(key("amendment_type", KindString, "type")),
			key("amendment_number", KindInt, "number"),
			num("bill_congress", "amendedBill.congress"),
			folded(str("bill_type", "amendedBill.type")),
			num("bill_number", "amendedBill.number"),
			str("purpose", "purpose"),
			str("description", "description"),
			str("chamber", "chamber"),
			blob("amendment_to_amendment", "amendedAmendment"),
			blob("sponsors", "sponsors"),
			blob("cosponsors", "cosponsors"),
			stamp("proposed_date", "proposedDate"),
			stamp("submitted_date", "submittedDate"),
			blob("latest_action", "latestAction"),
			blob("actions", "actions"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		CongressField: "congress",
		SubTypeField:  "amendment_type",
		DateField:     "submitted_date",
		TitleFields:   []string{"purpose", "description"},
	},
	EntityCommittees: {
		Entity: EntityCommittees,
		Table:  "committees",
		Fields: []Field{
			key("system_code", KindString, "systemCode"),
			str("name", "name"),
			str("chamber", "chamber"),
			str("committee_type", "committeeTypeCode", "type"),
			blob("subcommittees", "subcommittees"),
			str("parent_system_code", "parent.systemCode", "parentCommitteeCode"),
			derived(flag("is_subcommittee"), deriveIsSubcommittee),
			flag("is_current", "isCurrent"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		SubTypeField: "chamber",
		DateField:    "update_date",
		TitleFields:  []string{"name"},
	},
	EntityNominations: {
		Entity: EntityNominations,
		Table:  "nominations",
		Fields: []Field{
			key("congress", KindInt, "congress"),
			key("nomination_number", KindString, "number"),
			withDefault(key("part_number", KindString, "partNumber"), "00"),
			str("citation", "citation"),
			str("description", "description"),
			date("received_date", "receivedDate"),
			date("authority_date", "authorityDate"),
			str("executive_calendar_number", "executiveCalendarNumber"),
			str("organization", "organization"),
			str("position_title", "positionTitle", "nomineePositions.0.positionTitle"),
			flag("is_civilian", "nominationType.isCivilian"),
			blob("latest_action", "latestAction"),
			blob("actions", "actions"),
			blob("committees", "committees"),
			blob("hearings", "hearings"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		CongressField: "congress",
		DateField:     "received_date",
		TitleFields:   []string{"description", "organization", "position_title"},
	},
	EntityTreaties: {
		Entity: EntityTreaties,
		Table:  "treaties",
		Fields: []Field{
			key("congress", KindInt, "congress", "congressReceived"),
			key("treaty_number", KindInt, "number"),
			withDefault(folded(key("suffix", KindString, "suffix")), ""),
			str("topic", "topic"),
			str("country", "country", "countriesParties.0.countryParty"),
			stamp("transmitted_date", "transmittedDate"),
			date("in_force_date", "inForceDate"),
			str("resolution_text", "resolutionText"),
			blob("latest_action", "latestAction"),
			blob("actions", "actions"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		CongressField: "congress",
		DateField:     "transmitted_date",
		TitleFields:   []string{"topic"},
	},
	EntityReports: {
		Entity: EntityReports,
		Table:  "committee_reports",
		Fields: []Field{
			key("congress", KindInt, "congress"),
			folded(key("report_type", KindString, "type")),
			key("report_number", KindInt, "number"),
			withDefault(key("part", KindInt, "part"), "1"),
			str("citation", "citation"),
			str("title", "title"),
			str("chamber", "chamber"),
			flag("is_conference_report", "isConferenceReport"),
			blob("committees", "committees"),
			blob("associated_bills", "associatedBill", "associatedBills"),
			blob("associated_treaties", "associatedTreaties"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		CongressField: "congress",
		SubTypeField:  "report_type",
		DateField:     "update_date",
		TitleFields:   []string{"title", "citation"},
	},
	EntityHearings: {
		Entity: EntityHearings,
		Table:  "hearings",
		Fields: []Field{
			key("congress", KindInt, "congress"),
			folded(key("chamber", KindString, "chamber")),
			key("jacket_number", KindInt, "jacketNumber"),
			str("hearing_number", "number"),
			num("part", "part"),
			str("citation", "citation"),
			str("title", "title"),
			date("hearing_date", "dates.0.date", "date"),
			blob("committees", "committees"),
			blob("associated_bills", "associatedBills"),
			blob("formats", "formats"),
			stamp("update_date", "updateDate"),
			str("url", "url"),
		},
		CongressField: "congress",
		SubTypeField:  "chamber",
		DateField:     "hearing_date",
		TitleFields:   []string{"title"},
	},
	EntityRecords: {
		Entity: EntityRecords,
		Table:  "congressional_records",
		Fields: []Field{
			key("congress", KindInt, "congress"),
			key("session", KindInt, "sessionNumber", "session"),
			key("volume_number", KindInt, "volumeNumber", "volume"),
			key("issue_number", KindInt, "issueNumber", "issue"),
			date("publication_date", "publicationDate", "publishDate"),
			blob("sections", "sections", "links"),
			str("url", "url"),
		},
		CongressField: "congress",
		DateField:     "publication_date",
	},
}

// deriveCosponsorCount falls back to cosponsors.count, then to the length
// of a cosponsors list.
func deriveCosponsorCount(raw value.Object) (value.Value, bool) {
	if v, ok := raw.Lookup("cosponsors.count"); ok && !value.IsNull(v) {
		return v, true
	}
	if arr, ok := raw.LookupArray("cosponsors"); ok {
		return value.Number(fmt.Sprint(len(arr))), true
	}
	return value.Number("0"), true
}

func deriveIsLaw(raw value.Object) (value.Value, bool) {
	v, ok := raw.Lookup("laws")
	return value.Bool(ok && !value.IsEmpty(v)), true
}

func firstLaw(field string) DeriveFunc {
	return func(raw value.Object) (value.Value, bool) {
		v, ok := raw.Lookup("laws.0." + field)
		if !ok || value.IsNull(v) {
			return nil, false
		}
		return v, true
	}
}

func deriveIsSubcommittee(raw value.Object) (value.Value, bool) {
	if v, ok := raw.Lookup("parent"); ok && !value.IsEmpty(v) {
		return value.Bool(true), true
	}
	if v, ok := raw.Lookup("parentCommitteeCode"); ok && !value.IsEmpty(v) {
		return value.Bool(true), true
	}
	return value.Bool(false), true
}

// lastTerm reads field from the last element of a list that may be nested
// under "item" (list responses) or be a plain array (detail responses).
func lastTerm(field, list string) DeriveFunc {
	return func(raw value.Object) (value.Value, bool) {
		arr, ok := raw.LookupArray(list)
		if !ok {
			arr, ok = raw.LookupArray(list + ".item")
		}
		if !ok || len(arr) == 0 {
			return nil, false
		}
		last, ok := arr[len(arr)-1].(value.Object)
		if !ok {
			return nil, false
		}
		v, ok := last.Find(field)
		if !ok || value.IsNull(v) {
			return nil, false
		}
		return v, true
	}
}
