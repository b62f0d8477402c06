package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendiscourse/congress-data-service/internal/value"
)

func TestParseEntityType(t *testing.T) {
	et, err := ParseEntityType("Bill")
	require.NoError(t, err)
	assert.Equal(t, EntityBills, et)

	et, err = ParseEntityType("members")
	require.NoError(t, err)
	assert.Equal(t, EntityMembers, et)

	_, err = ParseEntityType("laws")
	assert.Error(t, err)
}

func TestNaturalKey_RoundTrip(t *testing.T) {
	key := NaturalKey{"118", "hr", "1234"}
	assert.Equal(t, "118-hr-1234", key.String())

	parsed, err := ParseNaturalKey(EntityBills, key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	parsed, err = ParseNaturalKey(EntityMembers, "B000944")
	require.NoError(t, err)
	assert.Equal(t, NaturalKey{"B000944"}, parsed)

	_, err = ParseNaturalKey(EntityBills, "118-hr")
	assert.Error(t, err)
}

func TestParseNaturalKey_DefaultLastPart(t *testing.T) {
	tests := []struct {
		name    string
		entity  EntityType
		input   string
		want    NaturalKey
		wantErr bool
	}{
		{"treaty without suffix", EntityTreaties, "118-5", NaturalKey{"118", "5", ""}, false},
		{"treaty rendered with empty suffix", EntityTreaties, "118-5-", NaturalKey{"118", "5", ""}, false},
		{"treaty with suffix", EntityTreaties, "118-5-a", NaturalKey{"118", "5", "a"}, false},
		{"nomination without part", EntityNominations, "118-PN12", NaturalKey{"118", "PN12", "00"}, false},
		{"report without part", EntityReports, "118-hrpt-10", NaturalKey{"118", "hrpt", "10", "1"}, false},
		{"treaty missing number", EntityTreaties, "118", nil, true},
		{"bill has no default", EntityBills, "118-hr", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNaturalKey(tt.entity, tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	treaty := NaturalKey{"118", "5", ""}
	parsed, err := ParseNaturalKey(EntityTreaties, "118-5")
	require.NoError(t, err)
	assert.Equal(t, treaty.String(), parsed.String(), "resolves to the stored id")
}

func TestRunSummary_Counts(t *testing.T) {
	var s RunSummary
	s.Add(OutcomeCreated)
	s.Add(OutcomeCreated)
	s.Add(OutcomeUpdated)
	s.Fail()

	assert.Equal(t, RunSummary{Processed: 4, Created: 2, Updated: 1, Failed: 1}, s)
	assert.Equal(t, s.Processed, s.Created+s.Updated+s.Failed)
}

func TestFilters_Validate(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	assert.NoError(t, Filters{}.Validate())
	assert.NoError(t, Filters{Congress: 118, SubType: "hr", FromDate: &from, ToDate: &to}.Validate())
	assert.NoError(t, Filters{Days: 7}.Validate())

	assert.Error(t, Filters{Days: 7, FromDate: &from}.Validate())
	assert.Error(t, Filters{Days: -1}.Validate())
	assert.Error(t, Filters{SubType: "hr"}.Validate())
	assert.Error(t, Filters{FromDate: &to, ToDate: &from}.Validate())
}

func TestFilters_Params(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Filters{Congress: 118, SubType: "s", FromDate: &from}.Params()

	assert.Equal(t, map[string]any{
		"congress":  118,
		"sub_type":  "s",
		"from_date": "2024-01-01T00:00:00Z",
	}, p)
	assert.Empty(t, Filters{}.Params())
}

func TestParseDateFilter(t *testing.T) {
	d, err := ParseDateFilter("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *d)

	d, err = ParseDateFilter("2024-03-05T10:00:00-05:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), *d)

	d, err = ParseDateFilter("")
	require.NoError(t, err)
	assert.Nil(t, d)

	_, err = ParseDateFilter("March 5")
	assert.Error(t, err)
}

func TestSchemaFor_EveryEntityHasKey(t *testing.T) {
	for _, et := range AllEntityTypes {
		s, err := SchemaFor(et)
		require.NoError(t, err, et)
		assert.NotEmpty(t, s.KeyFields(), et)
		assert.NotEmpty(t, s.Table, et)
		assert.NotEmpty(t, s.DateField, et)

		_, ok := s.Field(s.DateField)
		assert.True(t, ok, "%s date field %s", et, s.DateField)
		for _, name := range s.TitleFields {
			_, ok := s.Field(name)
			assert.True(t, ok, "%s title field %s", et, name)
		}
	}

	_, err := SchemaFor("laws")
	assert.Error(t, err)
}

func TestDeriveCosponsorCount(t *testing.T) {
	withCount := value.Object{"cosponsors": value.Object{"count": value.Number("12")}}
	v, ok := deriveCosponsorCount(withCount)
	require.True(t, ok)
	assert.Equal(t, value.Number("12"), v)

	withList := value.Object{"cosponsors": value.Array{value.Object{}, value.Object{}}}
	v, ok = deriveCosponsorCount(withList)
	require.True(t, ok)
	assert.Equal(t, value.Number("2"), v)

	v, ok = deriveCosponsorCount(value.Object{})
	require.True(t, ok)
	assert.Equal(t, value.Number("0"), v)
}

func TestDeriveIsLawAndFirstLaw(t *testing.T) {
	law := value.Object{"laws": value.Array{value.Object{"number": value.String("118-5"), "type": value.String("Public Law")}}}

	v, _ := deriveIsLaw(law)
	assert.Equal(t, value.Bool(true), v)
	v, ok := firstLaw("number")(law)
	require.True(t, ok)
	assert.Equal(t, value.String("118-5"), v)

	v, _ = deriveIsLaw(value.Object{"laws": value.Array{}})
	assert.Equal(t, value.Bool(false), v)
	_, ok = firstLaw("type")(value.Object{})
	assert.False(t, ok)
}

func TestLastTerm(t *testing.T) {
	raw := value.Object{
		"partyHistory": value.Array{
			value.Object{"partyName": value.String("Republican")},
			value.Object{"partyName": value.String("Independent")},
		},
		"terms": value.Object{"item": value.Array{value.Object{"stateName": value.String("Ohio")}}},
	}

	v, ok := lastTerm("partyName", "partyHistory")(raw)
	require.True(t, ok)
	assert.Equal(t, value.String("Independent"), v)

	v, ok = lastTerm("stateName", "terms")(raw)
	require.True(t, ok)
	assert.Equal(t, value.String("Ohio"), v)
}
