// Package httpapi exposes the device API, web API and public OSS routes
// from spec.md §6 over fasthttp (spec.md §1 treats the HTTP layer itself
// as an out-of-scope collaborator; these handlers are intentionally thin,
// existing to make FileService, user.Service, syncsvc, search and
// integrity reachable end-to-end).
package httpapi

import (
	"github.com/valyala/fasthttp"
	jsoniter "github.com/json-iterator/go"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
)

// json is the teacher's fast drop-in codec (github.com/json-iterator/go),
// used here instead of encoding/json because request/response marshaling
// runs on every route of a sync-heavy device API, the one place in this
// service where codec throughput is actually on the hot path.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// writeOK writes the success envelope every device/web route shares: {success:true, ...fields}.
func writeOK(ctx *fasthttp.RequestCtx, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	body, err := json.Marshal(fields)
	if err != nil {
		writeErr(ctx, errs.Internalf(err, "httpapi: encode response"))
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

// errEnvelope is the {success:false, errorCode?, errorMsg} shape spec.md
// §6 "Error envelope" names.
type errEnvelope struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode,omitempty"`
	ErrorMsg  string `json:"errorMsg"`
}

// writeErr translates any error into the wire envelope, using cmn/errs'
// Kind to pick the HTTP status per spec.md §7's table. Errors that aren't
// *errs.E are treated as INTERNAL and logged with a stack, matching the
// propagation policy spec.md §7 describes.
func writeErr(ctx *fasthttp.RequestCtx, err error) {
	e, ok := errs.As(err)
	if !ok {
		cmn.Errorf("httpapi: unclassified error: %+v", err)
		e = errs.Internalf(err, "internal error")
	}
	if e.Kind == errs.Internal {
		cmn.Errorf("httpapi: internal error: %+v", err)
	}
	body, _ := json.Marshal(errEnvelope{Success: false, ErrorCode: e.Code, ErrorMsg: e.Message})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(e.HTTPStatus())
	ctx.SetBody(body)
}

func bindJSON(ctx *fasthttp.RequestCtx, v any) error {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		return errs.BadRequestf("malformed JSON body: %v", err)
	}
	return nil
}
