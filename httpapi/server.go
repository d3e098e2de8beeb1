package httpapi

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/chunkstore"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/fileservice"
	"github.com/inkvault/inkvault/integrity"
	"github.com/inkvault/inkvault/metrics"
	"github.com/inkvault/inkvault/search"
	"github.com/inkvault/inkvault/syncsvc"
	"github.com/inkvault/inkvault/urlsign"
	"github.com/inkvault/inkvault/user"
	"github.com/inkvault/inkvault/vfs"
)

func errNotFoundRoute(path string) error {
	return errs.NotFoundf("no route for %q", path)
}

// Server wires every core service into fasthttp route handlers. It owns
// no state of its own beyond the services it dispatches to.
type Server struct {
	users          *user.Service
	files          *fileservice.Service
	vfs            *vfs.VFS
	sync           *syncsvc.Coordinator
	search         *search.Service
	integrity      *integrity.Service
	signer         *urlsign.Signer
	blobs          *blobstore.Store
	chunks         *chunkstore.Store
	maxUploadBytes int64
	metricsHandler fasthttp.RequestHandler
}

func New(users *user.Service, files *fileservice.Service, v *vfs.VFS, sync *syncsvc.Coordinator, search *search.Service, integrity *integrity.Service, signer *urlsign.Signer, blobs *blobstore.Store, chunks *chunkstore.Store, maxUploadBytes int64) *Server {
	return &Server{
		users:          users,
		files:          files,
		vfs:            v,
		sync:           sync,
		search:         search,
		integrity:      integrity,
		signer:         signer,
		blobs:          blobs,
		chunks:         chunks,
		maxUploadBytes: maxUploadBytes,
		metricsHandler: fasthttpadaptor.NewFastHTTPHandler(metrics.Handler()),
	}
}

// Handler returns the fasthttp.RequestHandler to pass to fasthttp.Server.
// Dispatch is a plain method+path switch, matching spec.md's own flat
// route table (§6) rather than a path-parameter router library.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	s.dispatch(ctx, path)
	metrics.HTTPRequestsTotal.WithLabelValues(path, strconv.Itoa(ctx.Response.StatusCode())).Inc()
}

func (s *Server) dispatch(ctx *fasthttp.RequestCtx, path string) {
	method := string(ctx.Method())

	switch {
	case path == "/debug/metrics":
		s.metricsHandler(ctx)

	case path == "/api/file/query/server":
		writeOK(ctx, nil)

	case path == "/api/official/user/query/random/code":
		s.handleQueryRandomCode(ctx)
	case path == "/api/official/user/account/login/new", path == "/api/official/user/account/login/equipment":
		s.handleLogin(ctx)

	case path == "/api/file/2/files/synchronous/start":
		s.handleSyncStart(ctx)
	case path == "/api/file/2/files/synchronous/end":
		s.handleSyncEnd(ctx)

	case path == "/api/file/2/files/list_folder":
		s.handleListFolder(ctx, false)
	case path == "/api/file/3/files/list_folder_v3":
		s.handleListFolder(ctx, true)
	case path == "/api/file/2/users/get_space_usage":
		s.handleSpaceUsage(ctx)

	case path == "/api/file/3/files/upload/apply":
		s.handleUploadApply(ctx)
	case path == "/api/file/2/files/upload/finish":
		s.handleUploadFinish(ctx)
	case path == "/api/file/3/files/download_v3":
		s.handleDownloadV3(ctx)

	case path == "/api/file/3/files/create_folder_v2":
		s.handleCreateFolder(ctx)
	case path == "/api/file/3/files/delete_folder_v3":
		s.handleDeleteNode(ctx)
	case path == "/api/file/3/files/move_v3":
		s.handleMove(ctx)
	case path == "/api/file/3/files/copy_v3":
		s.handleCopy(ctx)

	case path == "/api/file/recycle/list/query":
		s.handleRecycleList(ctx)
	case path == "/api/file/recycle/delete":
		s.handleRecycleDelete(ctx)
	case path == "/api/file/recycle/revert":
		s.handleRecycleRevert(ctx)
	case path == "/api/file/recycle/clear":
		s.handleRecycleClear(ctx)

	case path == "/api/file/label/list/search":
		s.handleLabelSearch(ctx)

	// Web API: same semantics, flattened view, camelCase response fields.
	case path == "/api/file/list/query":
		s.handleWebListQuery(ctx)
	case path == "/api/file/folder/add":
		s.handleCreateFolder(ctx)
	case path == "/api/file/move":
		s.handleMove(ctx)
	case path == "/api/file/copy":
		s.handleCopy(ctx)
	case path == "/api/file/rename":
		s.handleWebRename(ctx)
	case path == "/api/file/delete":
		s.handleDeleteNode(ctx)
	case path == "/api/file/capacity/query":
		s.handleSpaceUsage(ctx)

	case path == "/api/search/chunks":
		s.handleSearchChunks(ctx)
	case path == "/api/integrity/scan":
		s.handleIntegrityScan(ctx)

	case path == "/api/oss/upload" && method == fasthttp.MethodPost:
		s.handleOSSUpload(ctx)
	case path == "/api/oss/upload/part" && (method == fasthttp.MethodPost || method == fasthttp.MethodPut):
		s.handleOSSUploadPart(ctx)
	case path == "/api/oss/download" && method == fasthttp.MethodGet:
		s.handleOSSDownload(ctx)

	default:
		writeErr(ctx, errNotFoundRoute(path))
	}
}
