package main

import (
	"errors"
	"os"

	"mp_publisher/browser"
	"mp_publisher/service"
	"mp_publisher/vault"
	"mp_publisher/wechat"
)

// Exit codes for the mp-publisher CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // Command completed
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, config, or document location
	ExitIO      = 3 // Document or image not found, permission denied
	ExitBrowser = 4 // Headless browser errors while rendering
	ExitRemote  = 5 // The WeChat API refused the request
)

var (
	ErrUsage  = errors.New("usage")
	ErrConfig = errors.New("invalid configuration")
)

// exitCodeFor returns the appropriate exit code for an error.
// Callers must wrap with %w so errors.Is can see the sentinel.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var apiErr *wechat.APIError
	if errors.As(err, &apiErr) ||
		errors.Is(err, wechat.ErrTokenUnavailable) ||
		errors.Is(err, wechat.ErrUploadFailed) {
		return ExitRemote
	}

	if errors.Is(err, browser.ErrBrowserConnect) ||
		errors.Is(err, browser.ErrPageCreate) ||
		errors.Is(err, browser.ErrPageLoad) ||
		errors.Is(err, browser.ErrRender) {
		return ExitBrowser
	}

	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, vault.ErrNotFound) ||
		errors.Is(err, vault.ErrPermissionDenied) {
		return ExitIO
	}

	if errors.Is(err, ErrUsage) ||
		errors.Is(err, ErrConfig) ||
		errors.Is(err, wechat.ErrMissingAppConfig) ||
		errors.Is(err, service.ErrPathRequired) ||
		errors.Is(err, service.ErrPublisherUnavailable) ||
		errors.Is(err, vault.ErrInvalidPath) ||
		errors.Is(err, vault.ErrInvalidDocumentLocation) {
		return ExitUsage
	}

	return ExitGeneral
}
