package contentstore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusevault/core/internal/apperr"
)

// a real, well-formed CIDv1, used wherever a test needs Retrieve's
// cid.Decode precondition to pass.
const testCID = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

func TestStore_ParsesBareStringCID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"cids": []any{testCID}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.Store(t.Context(), map[string]any{"asset_id": "a1"})
	require.NoError(t, err)
	assert.Equal(t, testCID, id)
}

func TestStore_ParsesLinkObjectCID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"cids": []any{map[string]any{"/": testCID}}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.Store(t.Context(), map[string]any{"asset_id": "a1"})
	require.NoError(t, err)
	assert.Equal(t, testCID, id)
}

func TestStore_NonOKStatusMapsToDependencyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Store(t.Context(), map[string]any{"asset_id": "a1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestStore_EmptyCIDListIsInternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"cids": []any{}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Store(t.Context(), map[string]any{"asset_id": "a1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestStore_ConnectionFailureMapsToDependencyUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Store(t.Context(), map[string]any{"asset_id": "a1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestComputeCID_ReturnsComputedValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calculate-cid", r.URL.Path)
		_ = json.NewEncoder(w).Encode(computeResponse{ComputedCID: testCID})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	id, err := c.ComputeCID(t.Context(), map[string]any{"asset_id": "a1"})
	require.NoError(t, err)
	assert.Equal(t, testCID, id)
}

func TestComputeCID_MissingFieldIsInternalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ComputeCID(t.Context(), map[string]any{"asset_id": "a1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestRetrieve_RejectsInvalidCID(t *testing.T) {
	c := NewClient("http://example.invalid")
	_, _, err := c.Retrieve(t.Context(), "not-a-cid")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRetrieve_SucceedsFromPrimaryGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/"+testCID+"/contents", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"asset_id": "a1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithFallbackGateways(nil))
	payload, sentinel, err := c.Retrieve(t.Context(), testCID)
	require.NoError(t, err)
	assert.Nil(t, sentinel)
	assert.Equal(t, "a1", payload["asset_id"])
}

func TestRetrieve_FallsBackWhenPrimaryFails(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"asset_id": "from-fallback"})
	}))
	defer fallback.Close()

	c := NewClient(primary.URL, WithFallbackGateways([]string{fallback.URL + "/ipfs/{cid}"}))
	payload, sentinel, err := c.Retrieve(t.Context(), testCID)
	require.NoError(t, err)
	assert.Nil(t, sentinel)
	assert.Equal(t, "from-fallback", payload["asset_id"])
}

func TestRetrieve_AllGatewaysFailingReturnsDependencyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithFallbackGateways(nil))
	_, _, err := c.Retrieve(t.Context(), testCID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestRetrieve_NonJSONBytesReturnSentinelNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithFallbackGateways(nil))
	payload, sentinel, err := c.Retrieve(t.Context(), testCID)
	require.NoError(t, err)
	assert.Nil(t, payload)
	require.NotNil(t, sentinel)
	assert.Equal(t, "not json at all", sentinel.CriticalMetadata["recovered_content"])
	assert.NotEmpty(t, sentinel.RetrievalError)
}

func TestUnwrapCID_BareString(t *testing.T) {
	id, err := unwrapCID(json.RawMessage(`"` + testCID + `"`))
	require.NoError(t, err)
	assert.Equal(t, testCID, id)
}

func TestUnwrapCID_LinkObject(t *testing.T) {
	id, err := unwrapCID(json.RawMessage(`{"/":"` + testCID + `"}`))
	require.NoError(t, err)
	assert.Equal(t, testCID, id)
}

func TestUnwrapCID_RejectsNeitherShape(t *testing.T) {
	_, err := unwrapCID(json.RawMessage(`42`))
	require.Error(t, err)
}
