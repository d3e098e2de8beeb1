package httpapi

import (
	"github.com/valyala/fasthttp"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/user"
)

// authenticate reads the x-access-token header spec.md §6 names and
// resolves it to the session's claims, returning UNAUTHORIZED if it is
// missing, malformed, expired, or has been revoked (user.Service.Logout).
func (s *Server) authenticate(ctx *fasthttp.RequestCtx) (*user.Claims, error) {
	token := string(ctx.Request.Header.Peek("x-access-token"))
	if token == "" {
		return nil, errs.Unauthorizedf("missing x-access-token")
	}
	return s.users.Authenticate(ctx, token)
}
