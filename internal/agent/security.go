package agent

import (
	"context"

	"velu/internal/task"
)

const contentSecurityPolicy = "default-src 'self'; frame-ancestors 'none'; object-src 'none'; base-uri 'self'"

const appServerMiddleware = `from __future__ import annotations

from typing import Callable

from starlette.middleware.base import BaseHTTPMiddleware
from starlette.types import ASGIApp


class SecurityHeadersMiddleware(BaseHTTPMiddleware):
    def __init__(self, app: ASGIApp) -> None:
        super().__init__(app)

    async def dispatch(self, request, call_next: Callable):
        resp = await call_next(request)
        resp.headers["X-Content-Type-Options"] = "nosniff"
        resp.headers["Referrer-Policy"] = "strict-origin-when-cross-origin"
        resp.headers["X-Frame-Options"] = "DENY"
        resp.headers["Cross-Origin-Opener-Policy"] = "same-origin"
        resp.headers["Cross-Origin-Resource-Policy"] = "same-site"
        resp.headers["Permissions-Policy"] = "geolocation=(), microphone=()"
        resp.headers["Content-Security-Policy"] = "` + contentSecurityPolicy + `"
        return resp
`

const generatedAPIMiddleware = `from __future__ import annotations

from fastapi import FastAPI, Request, Response


_DEFAULT_CSP = "` + contentSecurityPolicy + `"


def _set_if_missing(response: Response, name: str, value: str) -> None:
    if name not in response.headers:
        response.headers[name] = value


def install_security_middleware(app: FastAPI, *, csp: str | None = None) -> None:
    policy = csp or _DEFAULT_CSP

    @app.middleware("http")
    async def _security_middleware(request: Request, call_next):  # type: ignore[override]
        response = await call_next(request)
        _set_if_missing(response, "X-Content-Type-Options", "nosniff")
        _set_if_missing(response, "Referrer-Policy", "strict-origin-when-cross-origin")
        _set_if_missing(response, "X-Frame-Options", "DENY")
        _set_if_missing(response, "Cross-Origin-Opener-Policy", "same-origin")
        _set_if_missing(response, "Cross-Origin-Resource-Policy", "same-origin")
        _set_if_missing(response, "Permissions-Policy", "geolocation=(), microphone=()")
        _set_if_missing(response, "Content-Security-Policy", policy)
        return response
`

// SecurityHardening emits two security-header middleware modules under src/.
func SecurityHardening(_ context.Context, _ task.Payload) task.Result {
	return task.Success("security_hardening").With("files", []task.File{
		{Path: "src/app_server/security/headers.py", Content: appServerMiddleware},
		{Path: "src/api/security/headers.py", Content: generatedAPIMiddleware},
	})
}
