package filter

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[model.PointOffset]payload.Payload

func (m mapReader) Field(offset model.PointOffset, key string) (payload.Value, bool) {
	v, ok := m[offset][key]
	return v, ok
}

func fixture() *Checker {
	data := mapReader{
		0: {"city": payload.Keyword("London", "Moscow"), "price": payload.Integer(50)},
		1: {"city": payload.Keyword("Berlin"), "price": payload.Float(9.5), "rating": payload.Integer(4)},
		2: {"city": payload.Keyword("London"), "price": payload.Keyword("free")},
		3: {},
	}
	ids := func(off model.PointOffset) (model.PointID, bool) {
		if off > 3 {
			return 0, false
		}
		return model.PointID(100 + off), true
	}
	return NewChecker(data, ids)
}

func TestCheck(t *testing.T) {
	c := fixture()

	tests := []struct {
		name     string
		filter   *Filter
		expected []model.PointOffset
	}{
		{"Nil", nil, []model.PointOffset{0, 1, 2, 3}},
		{"Empty", &Filter{}, []model.PointOffset{0, 1, 2, 3}},
		{"KeywordAnyValue", &Filter{Must: []Condition{MatchKeyword("city", "London")}}, []model.PointOffset{0, 2}},
		{"IntegerMatch", &Filter{Must: []Condition{MatchInteger("price", 50)}}, []model.PointOffset{0}},
		{"IntegerMatchWrongKind", &Filter{Must: []Condition{MatchInteger("city", 1)}}, nil},
		{"Range", &Filter{Must: []Condition{InRange("price", Range{GTE: Ptr(5.0), LT: Ptr(50.0)})}}, []model.PointOffset{1}},
		{"RangeInclusive", &Filter{Must: []Condition{InRange("price", Range{LTE: Ptr(50.0)})}}, []model.PointOffset{0, 1}},
		{"RangeOnKeyword", &Filter{Must: []Condition{InRange("city", Range{GT: Ptr(0.0)})}}, nil},
		{"Exists", &Filter{Must: []Condition{FieldExists("rating", true)}}, []model.PointOffset{1}},
		{"NotExists", &Filter{Must: []Condition{FieldExists("rating", false)}}, []model.PointOffset{0, 2, 3}},
		{"AbsentFieldFails", &Filter{Must: []Condition{MatchKeyword("missing", "x")}}, nil},
		{"MustNotAbsentField", &Filter{MustNot: []Condition{MatchKeyword("missing", "x")}}, []model.PointOffset{0, 1, 2, 3}},
		{"Should", &Filter{Should: []Condition{MatchKeyword("city", "Berlin"), MatchInteger("price", 50)}}, []model.PointOffset{0, 1}},
		{"MustNot", &Filter{MustNot: []Condition{MatchKeyword("city", "London")}}, []model.PointOffset{1, 3}},
		{"HasID", &Filter{Must: []Condition{HasID(101, 103, 999)}}, []model.PointOffset{1, 3}},
		{"Nested", &Filter{
			Must: []Condition{MatchKeyword("city", "London")},
			MustNot: []Condition{Nested(Filter{
				Should: []Condition{InRange("price", Range{GT: Ptr(10.0)})},
			})},
		}, []model.PointOffset{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []model.PointOffset
			for off := model.PointOffset(0); off <= 3; off++ {
				if c.Check(off, tt.filter) {
					got = append(got, off)
				}
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCheckDeterministic(t *testing.T) {
	c := fixture()
	f := &Filter{Should: []Condition{MatchKeyword("city", "Berlin")}}
	for off := model.PointOffset(0); off <= 3; off++ {
		assert.Equal(t, c.Check(off, f), c.Check(off, f))
	}
}

func TestHasIDWithoutResolver(t *testing.T) {
	c := NewChecker(mapReader{}, nil)
	assert.False(t, c.Check(0, &Filter{Must: []Condition{HasID(0)}}))
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(`{
		"must": [
			{"key": "city", "match": {"keyword": "London"}},
			{"key": "price", "range": {"gte": 10, "lt": 100}}
		],
		"must_not": [{"has_id": [7, 9]}],
		"should": [{"filter": {"must": [{"key": "rating", "exists": true}]}}]
	}`))
	require.NoError(t, err)

	require.Len(t, f.Must, 2)
	assert.Equal(t, "London", *f.Must[0].Match.Keyword)
	assert.Equal(t, 10.0, *f.Must[1].Range.GTE)
	assert.Equal(t, []model.PointID{7, 9}, f.MustNot[0].HasID)
	assert.True(t, *f.Should[0].Filter.Must[0].Exists)
	assert.Equal(t, []string{"city", "price", "rating"}, f.Keys())

	data, err := json.Marshal(f)
	require.NoError(t, err)
	again, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f, again)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Malformed", `{"must": [`},
		{"UnknownField", `{"must": [{"key": "a", "glob": "x"}]}`},
		{"NoPredicate", `{"must": [{"key": "a"}]}`},
		{"TwoPredicates", `{"must": [{"key": "a", "match": {"integer": 1}, "exists": true}]}`},
		{"MatchBoth", `{"must": [{"key": "a", "match": {"integer": 1, "keyword": "x"}}]}`},
		{"MatchNone", `{"must": [{"key": "a", "match": {}}]}`},
		{"RangeNoBounds", `{"must": [{"key": "a", "range": {}}]}`},
		{"MissingKey", `{"must": [{"match": {"integer": 1}}]}`},
		{"KeyOnNested", `{"must": [{"key": "a", "filter": {}}]}`},
		{"KeyOnHasID", `{"must": [{"key": "a", "has_id": [1]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.ErrorIs(t, err, ErrInvalidFilter)
		})
	}
}

func TestParseDepthLimit(t *testing.T) {
	nest := func(n int) string {
		return strings.Repeat(`{"must":[{"filter":`, n) + `{}` + strings.Repeat(`}]}`, n)
	}

	_, err := Parse([]byte(nest(MaxDepth - 1)))
	require.NoError(t, err)

	_, err = Parse([]byte(nest(MaxDepth)))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestIsEmpty(t *testing.T) {
	var f *Filter
	assert.True(t, f.IsEmpty())
	assert.True(t, (&Filter{}).IsEmpty())
	assert.False(t, (&Filter{Must: []Condition{HasID(1)}}).IsEmpty())
}
