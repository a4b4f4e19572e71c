package sharepoint

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fieldsFixture = `{"d":{"results":[
	{"Title":"Title","InternalName":"Title","EntityPropertyName":"Title","TypeAsString":"Text","FieldTypeKind":2},
	{"Title":"Amount","InternalName":"Amount","EntityPropertyName":"Amount","TypeAsString":"Currency","FieldTypeKind":10},
	{"Title":"Due Date","InternalName":"Due_x0020_Date","EntityPropertyName":"Due_x0020_Date","TypeAsString":"DateTime","FieldTypeKind":4},
	{"Title":"Current Status","InternalName":"Current_x0020_Status","EntityPropertyName":"Current_x0020_Status","TypeAsString":"Choice","FieldTypeKind":6},
	{"Title":"Owner","InternalName":"Owner","EntityPropertyName":"Owner","TypeAsString":"User","FieldTypeKind":20},
	{"Title":"Customer","InternalName":"Customer","EntityPropertyName":"Customer","TypeAsString":"Lookup","FieldTypeKind":7},
	{"Title":"Content Type","InternalName":"ContentType","EntityPropertyName":"ContentType","TypeAsString":"Computed","FieldTypeKind":12},
	{"Title":"Attachments","InternalName":"Attachments","EntityPropertyName":"Attachments","TypeAsString":"Attachments","FieldTypeKind":19}
]}}`

func TestColumns_MapsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_api/web/lists/getbytitle('Tasks')/fields", r.URL.Path)
		assert.Equal(t, "Hidden eq false and ReadOnlyField eq false", r.URL.Query().Get("$filter"))

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, fieldsFixture)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	schema, err := client.Columns(context.Background(), "Tasks")
	require.NoError(t, err)

	assert.Len(t, schema, 7)
	assert.NotContains(t, schema, "Content Type")

	assert.Equal(t, ColumnDescriptor{
		DisplayName: "Amount", InternalName: "Amount", DataType: TypeNumber, TypeName: "Currency",
	}, schema["Amount"])

	assert.Equal(t, "Due_x0020_Date", schema["Due Date"].InternalName)
	assert.Equal(t, TypeDateTime, schema["Due Date"].DataType)
	assert.Equal(t, TypeChoice, schema["Current Status"].DataType)

	owner := schema["Owner"]
	assert.Equal(t, "OwnerId", owner.InternalName)
	assert.True(t, owner.IsIDLike)
	assert.Equal(t, TypeLookup, owner.DataType)

	customer := schema["Customer"]
	assert.Equal(t, "CustomerId", customer.InternalName)
	assert.True(t, customer.IsIDLike)

	assert.False(t, schema["Title"].IsIDLike)
	assert.Equal(t, TypeAttachments, schema["Attachments"].DataType)

	col, ok := schema.ByInternalName("OwnerId")
	require.True(t, ok)
	assert.Equal(t, "Owner", col.DisplayName)
}

func TestColumns_DuplicateInternalNameKeepsFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"d":{"results":[
			{"Title":"A","EntityPropertyName":"X","TypeAsString":"Text","FieldTypeKind":2},
			{"Title":"B","EntityPropertyName":"X","TypeAsString":"Text","FieldTypeKind":2}
		]}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	schema, err := client.Columns(context.Background(), "T")
	require.NoError(t, err)

	assert.Len(t, schema, 1)
	assert.Contains(t, schema, "A")
}

func TestColumns_FallsBackToInternalName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"d":{"results":[{"Title":"Notes","InternalName":"Notes0","TypeAsString":"Note","FieldTypeKind":3}]}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	schema, err := client.Columns(context.Background(), "T")
	require.NoError(t, err)

	assert.Equal(t, "Notes0", schema["Notes"].InternalName)
	assert.Equal(t, TypeText, schema["Notes"].DataType)
}

func TestListPath_EscapesTitle(t *testing.T) {
	assert.Equal(t, "/_api/web/lists/getbytitle('Bob%27%27s%20List')", listPath("Bob's List"))
	assert.Equal(t, "/_api/web/lists/getbytitle('T')/items(42)", itemPath("T", 42))
}

func TestEntityType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_api/web/lists/getbytitle('Tasks')", r.URL.Path)
		assert.Equal(t, "ListItemEntityTypeFullName", r.URL.Query().Get("$select"))

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"d":{"__metadata":{"type":"SP.List"},"ListItemEntityTypeFullName":"SP.Data.TasksListItem"}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	tok, err := client.EntityType(context.Background(), "Tasks")
	require.NoError(t, err)
	assert.Equal(t, "SP.Data.TasksListItem", tok)
}

func TestEntityType_Missing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"d":{}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.EntityType(context.Background(), "Tasks")
	require.Error(t, err)
}

func TestRegistry_CachesPerList(t *testing.T) {
	var fieldCalls, entityCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)

		if r.URL.Path == "/_api/web/lists/getbytitle('Tasks')/fields" {
			fieldCalls.Add(1)
			fmt.Fprint(w, fieldsFixture)

			return
		}

		entityCalls.Add(1)
		fmt.Fprint(w, `{"d":{"ListItemEntityTypeFullName":"SP.Data.TasksListItem"}}`)
	}))
	defer srv.Close()

	reg := NewRegistry(newTestClient(t, srv.URL))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := reg.Columns(ctx, "Tasks")
			assert.NoError(t, err)

			_, err = reg.EntityType(ctx, "Tasks")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), fieldCalls.Load())
	assert.Equal(t, int32(1), entityCalls.Load())
}

func TestRegistry_SchemaFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reg := NewRegistry(newTestClient(t, srv.URL))

	_, err := reg.Columns(context.Background(), "Gone")
	require.Error(t, err)

	var sfe *SchemaFetchError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, "Gone", sfe.List)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *ListNotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = reg.EntityType(context.Background(), "Gone")
	require.ErrorAs(t, err, &sfe)
}

func TestToDataType(t *testing.T) {
	tests := map[string]DataType{
		"Text":        TypeText,
		"Note":        TypeText,
		"Number":      TypeNumber,
		"Integer":     TypeNumber,
		"Counter":     TypeNumber,
		"DateTime":    TypeDateTime,
		"MultiChoice": TypeChoice,
		"UserMulti":   TypeLookup,
		"Boolean":     TypeOther,
		"URL":         TypeOther,
	}

	for in, want := range tests {
		assert.Equal(t, want, toDataType(in), in)
	}
}
