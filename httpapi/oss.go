package httpapi

import (
	"crypto/md5" //nolint:gosec // content hash, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/urlsign"
)

func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// verifySignedRequest authenticates one of the public OSS routes solely by
// its query-string signature (spec.md §4.4, §6): no session token is
// involved. path must be the route's own path, matching what was signed.
func (s *Server) verifySignedRequest(ctx *fasthttp.RequestCtx, path string, consume bool) (user string, err error) {
	sig, ts, nonce, u, err := urlsign.ParseQuery(string(ctx.URI().QueryString()))
	if err != nil {
		return "", err
	}
	if err := s.signer.Verify(ctx, path, sig, ts, nonce, u, urlsign.VerifyOpts{ConsumeNonce: consume}); err != nil {
		return "", err
	}
	return u, nil
}

// handleOSSUpload accepts a whole-file multipart upload at the object_name
// minted by UploadApply, writing it straight to BlobStore under
// cmn.BucketUserData: FinishUpload later re-derives the digest and wires
// the blob into VFS (spec.md §4.5).
func (s *Server) handleOSSUpload(ctx *fasthttp.RequestCtx) {
	if _, err := s.verifySignedRequest(ctx, "/api/oss/upload", true); err != nil {
		writeErr(ctx, err)
		return
	}
	objectName := string(ctx.QueryArgs().Peek("object_name"))
	if objectName == "" {
		writeErr(ctx, errs.BadRequestf("missing object_name"))
		return
	}
	form, err := ctx.MultipartForm()
	if err != nil {
		writeErr(ctx, errs.BadRequestf("malformed multipart upload: %v", err))
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		writeErr(ctx, errs.BadRequestf("missing multipart field %q", "file"))
		return
	}
	fh, err := files[0].Open()
	if err != nil {
		writeErr(ctx, errs.Internalf(err, "httpapi: open uploaded file"))
		return
	}
	defer fh.Close()

	md5hex, _, err := s.blobs.PutStream(ctx, cmn.BucketUserData, objectName, io.Reader(fh))
	if err != nil {
		writeErr(ctx, errs.Internalf(err, "httpapi: store uploaded blob"))
		return
	}
	writeOK(ctx, map[string]any{"inner_name": objectName, "md5": md5hex})
}

// handleOSSUploadPart stages one chunk of a chunked upload; on the final
// part it merges everything into the target blob (spec.md §4.3, §4.4's
// "intermediate parts must not burn the single-use nonce" exception).
func (s *Server) handleOSSUploadPart(ctx *fasthttp.RequestCtx) {
	objectName := string(ctx.QueryArgs().Peek("object_name"))
	uploadID := string(ctx.QueryArgs().Peek("uploadId"))
	partNumber, perr := strconv.Atoi(string(ctx.QueryArgs().Peek("partNumber")))
	totalChunks, terr := strconv.Atoi(string(ctx.QueryArgs().Peek("totalChunks")))
	if objectName == "" || uploadID == "" || perr != nil || terr != nil {
		writeErr(ctx, errs.BadRequestf("missing or malformed chunk parameters"))
		return
	}

	isFinal := urlsign.IsFinalChunkPart(partNumber, totalChunks)
	email, err := s.verifySignedRequest(ctx, "/api/oss/upload/part", isFinal)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	userID, err := s.users.UserIDByEmail(ctx, email)
	if err != nil {
		writeErr(ctx, err)
		return
	}

	if err := s.chunks.PutPart(ctx, strconv.FormatInt(userID, 10), uploadID, partNumber, ctx.PostBody()); err != nil {
		writeErr(ctx, err)
		return
	}

	chunkMD5 := md5Hex(ctx.PostBody())
	resp := map[string]any{
		"upload_id":   uploadID,
		"part_number": partNumber,
		"chunk_md5":   chunkMD5,
		"status":      "success",
	}
	if isFinal {
		if _, _, err := s.files.MergeChunkedUpload(ctx, userID, uploadID, objectName, totalChunks); err != nil {
			writeErr(ctx, err)
			return
		}
	}
	writeOK(ctx, resp)
}

// handleOSSDownload streams a blob by file id, honoring Range requests with
// 206 Partial Content or 416 Range Not Satisfiable (spec.md §6).
func (s *Server) handleOSSDownload(ctx *fasthttp.RequestCtx) {
	user, err := s.verifySignedRequest(ctx, "/api/oss/download", true)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	idStr := string(ctx.QueryArgs().Peek("id"))
	id, perr := strconv.ParseInt(idStr, 10, 64)
	if perr != nil {
		writeErr(ctx, errs.BadRequestf("missing or malformed id"))
		return
	}

	claims, authErr := s.users.Authenticate(ctx, string(ctx.Request.Header.Peek("x-access-token")))
	var userID int64
	if authErr == nil {
		userID = claims.UserID
	} else {
		// Public OSS routes are signature-only: resolve the owning account
		// from the signed "user" field (the email UploadApply signed for)
		// when no session token accompanies the request.
		u, err := s.users.UserIDByEmail(ctx, user)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		userID = u
	}

	node, err := s.files.DownloadResolve(ctx, userID, id)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	rc, err := s.blobs.OpenBlob(ctx, cmn.BucketUserData, node.StorageKey)
	if err != nil {
		writeErr(ctx, errs.NotFoundf("blob for file %d not found", id))
		return
	}
	defer rc.Close()

	ctx.Response.Header.Set("Accept-Ranges", "bytes")
	rangeHeader := string(ctx.Request.Header.Peek("Range"))
	start, end, hasRange, rangeErr := parseRange(rangeHeader, node.Size)
	if rangeErr != nil {
		if errs.Is(rangeErr, errs.RangeNotSatisfiable) {
			ctx.SetStatusCode(fasthttp.StatusRequestedRangeNotSatisfiable)
			ctx.Response.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", node.Size))
			return
		}
		writeErr(ctx, rangeErr)
		return
	}
	if !hasRange {
		ctx.Response.Header.Set("Content-Length", strconv.FormatInt(node.Size, 10))
		ctx.SetBodyStream(rc, int(node.Size))
		return
	}
	if _, err := rc.Seek(start, io.SeekStart); err != nil {
		writeErr(ctx, errs.Internalf(err, "httpapi: seek blob"))
		return
	}
	length := end - start + 1
	ctx.SetStatusCode(fasthttp.StatusPartialContent)
	ctx.Response.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, node.Size))
	ctx.Response.Header.Set("Content-Length", strconv.FormatInt(length, 10))
	ctx.SetBodyStream(io.LimitReader(rc, length), int(length))
}

// parseRange parses a single "bytes=start-end" Range header, matching the
// single-range case the download route serves (spec.md §6 mentions no
// multi-range support).
func parseRange(header string, size int64) (start, end int64, has bool, err error) {
	if header == "" {
		return 0, 0, false, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false, errs.BadRequestf("malformed Range header")
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false, errs.BadRequestf("multi-range requests are not supported")
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, errs.BadRequestf("malformed Range header")
	}
	if parts[0] == "" {
		suffixLen, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || suffixLen <= 0 {
			return 0, 0, false, errs.BadRequestf("malformed Range header")
		}
		if suffixLen > size {
			suffixLen = size
		}
		return size - suffixLen, size - 1, true, nil
	}
	start, serr := strconv.ParseInt(parts[0], 10, 64)
	if serr != nil {
		return 0, 0, false, errs.BadRequestf("malformed Range header")
	}
	if parts[1] == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false, errs.BadRequestf("malformed Range header")
		}
	}
	if start < 0 || end >= size || start > end {
		return 0, 0, false, errs.RangeNotSatisfiablef("Range out of bounds")
	}
	return start, end, true, nil
}
