package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxInfoSendsUUIDsAndToken(t *testing.T) {
	var gotAuth string
	var gotBody map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inbox-info", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"person_uuid":"u1","name":"Ann","match_percentage":87,"image_uuid":"img","image_blurhash":"LK","verified":true,"conversation_location":"intros"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, nil)
	infos, err := c.InboxInfo(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, []string{"u1", "u2"}, gotBody["person_uuids"])
	require.Len(t, infos, 1)
	assert.Equal(t, PersonInfo{
		PersonUUID:           "u1",
		Name:                 "Ann",
		MatchPercentage:      87,
		ImageUUID:            "img",
		ImageBlurhash:        "LK",
		Verified:             true,
		ConversationLocation: "intros",
	}, infos[0])
}

func TestInboxInfoEmptyListIsArray(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	infos, err := New(srv.URL, "", time.Second, nil).InboxInfo(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.JSONEq(t, `[]`, string(raw["person_uuids"]))
}

func TestSkipAndUnskipPaths(t *testing.T) {
	var paths []string
	var reason string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/skip/by-uuid/u1" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			reason = body["report_reason"]
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", time.Second, nil)
	require.NoError(t, c.Skip(context.Background(), "u1", "spam"))
	require.NoError(t, c.Unskip(context.Background(), "u1"))

	assert.Equal(t, []string{"/skip/by-uuid/u1", "/unskip/by-uuid/u1"}, paths)
	assert.Equal(t, "spam", reason)
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	err := New(srv.URL, "bad", time.Second, nil).Skip(context.Background(), "u1", "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, "nope", se.Body)
}
