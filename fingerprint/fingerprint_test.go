package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterOrderDoesNotMatter(t *testing.T) {
	a := New(Query{
		Resource:  "posts",
		Operation: "list",
		Filters: []Filter{
			{Field: "status", Op: "eq", Value: "published"},
			{Field: "author_id", Op: "eq", Value: 42},
		},
		Sorts: []Sort{{Field: "created_at", Desc: true}},
	})
	b := New(Query{
		Resource:  "posts",
		Operation: "list",
		Filters: []Filter{
			{Field: "author_id", Op: "eq", Value: 42},
			{Field: "status", Op: "eq", Value: "published"},
		},
		Sorts: []Sort{{Field: "created_at", Desc: true}},
	})

	assert.Equal(t, a, b)
}

func TestSortOrderMatters(t *testing.T) {
	a := New(Query{
		Resource:  "posts",
		Operation: "list",
		Sorts:     []Sort{{Field: "title"}, {Field: "id"}},
	})
	b := New(Query{
		Resource:  "posts",
		Operation: "list",
		Sorts:     []Sort{{Field: "id"}, {Field: "title"}},
	})

	assert.NotEqual(t, a, b)
}

func TestDistinctQueriesDistinctKeys(t *testing.T) {
	base := Query{Resource: "users", Operation: "list"}

	byResource := base
	byResource.Resource = "accounts"

	byOperation := base
	byOperation.Operation = "getOne"

	byText := base
	byText.Text = "SELECT * FROM users"

	fp := New(base)
	assert.NotEqual(t, fp, New(byResource))
	assert.NotEqual(t, fp, New(byOperation))
	assert.NotEqual(t, fp, New(byText))
}

func TestSortDirectionMatters(t *testing.T) {
	asc := New(Query{Resource: "posts", Sorts: []Sort{{Field: "id"}}})
	desc := New(Query{Resource: "posts", Sorts: []Sort{{Field: "id", Desc: true}}})
	assert.NotEqual(t, asc, desc)
}

func TestStableAcrossCalls(t *testing.T) {
	q := Query{
		Resource:  "orders",
		Operation: "list",
		Filters:   []Filter{{Field: "total", Op: "gte", Value: 10.5}},
	}
	assert.Equal(t, New(q), New(q))
}

func TestUnmarshalableValueDoesNotPanic(t *testing.T) {
	q := Query{
		Resource: "orders",
		Filters:  []Filter{{Field: "fn", Op: "eq", Value: func() {}}},
	}
	assert.NotPanics(t, func() { New(q) })
	assert.Equal(t, New(q), New(q))
}
