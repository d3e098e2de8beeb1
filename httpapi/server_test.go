package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/chunkstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/coordination"
	"github.com/inkvault/inkvault/db"
	"github.com/inkvault/inkvault/eventbus"
	"github.com/inkvault/inkvault/fileservice"
	"github.com/inkvault/inkvault/inference"
	"github.com/inkvault/inkvault/integrity"
	"github.com/inkvault/inkvault/search"
	"github.com/inkvault/inkvault/syncsvc"
	"github.com/inkvault/inkvault/urlsign"
	"github.com/inkvault/inkvault/user"
	"github.com/inkvault/inkvault/vfs"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	blobs, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)
	chunks, err := chunkstore.Open(t.TempDir(), blobs)
	require.NoError(t, err)

	coord := coordination.NewMapStore()
	ids := cmn.NewSnowflake(time.Now(), 1)

	signer, err := urlsign.New("test-secret", coord)
	require.NoError(t, err)

	authCfg := &cmn.AuthConf{
		SessionSecret:    "test-secret",
		SessionTTL:       time.Hour,
		RegistrationOpen: true,
		LoginRateLimit:   100,
		LoginRateWindow:  time.Minute,
	}

	tree := vfs.New(database, ids)
	users := user.New(database, coord, ids, authCfg)
	bus := eventbus.New()
	files := fileservice.New(tree, blobs, chunks, signer, bus)
	sync := syncsvc.New(coord, time.Minute)
	infer := inference.NewStub()
	searchSvc := search.New(database, infer)
	integritySvc := integrity.New(database, blobs)

	return New(users, files, tree, sync, searchSvc, integritySvc, signer, blobs, chunks, 1<<20)
}

func doRequest(srv *Server, method, path, token string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if token != "" {
		ctx.Request.Header.Set("x-access-token", token)
	}
	if body != nil {
		ctx.Request.SetBody(body)
	}
	srv.Handler(ctx)
	return ctx
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ctx := doRequest(srv, fasthttp.MethodGet, "/api/nonexistent", "", nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestSyncStartRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)
	ctx := doRequest(srv, fasthttp.MethodPost, "/api/file/2/files/synchronous/start", "", []byte(`{"equipmentNo":"SN1"}`))
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestLoginThenSyncStartRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.users.Register(context.Background(), "a@example.com", "md5hash", "A")
	require.NoError(t, err)

	loginCtx := doRequest(srv, fasthttp.MethodPost, "/api/official/user/account/login/new",
		"", []byte(`{"account":"a@example.com","password":"md5hash","equipmentNo":"SN1"}`))
	require.Equal(t, fasthttp.StatusOK, loginCtx.Response.StatusCode())

	var loginResp map[string]any
	require.NoError(t, json.Unmarshal(loginCtx.Response.Body(), &loginResp))
	token, _ := loginResp["token"].(string)
	require.NotEmpty(t, token)

	syncCtx := doRequest(srv, fasthttp.MethodPost, "/api/file/2/files/synchronous/start", token, []byte(`{"equipmentNo":"SN1"}`))
	assert.Equal(t, fasthttp.StatusOK, syncCtx.Response.StatusCode())
}
