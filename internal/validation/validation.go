// Package validation decides whether an uploaded file may enter the system
// and suggests tags and a category for it.
package validation

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"docvault/internal/model"
)

// ErrInvalidFile is matched by every *Error.
var ErrInvalidFile = errors.New("invalid file")

const (
	mb = int64(1) << 20

	// DefaultMaxSize applies to roles without an explicit limit.
	DefaultMaxSize = 10 * mb
)

// Error reports why a file was rejected. No backend has been touched when it is returned.
type Error struct {
	FileName string
	Field    string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %s", e.FileName, e.Field, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalidFile }

var defaultSizeLimits = map[string]int64{
	"borrower": 25 * mb,
	"lender":   50 * mb,
	"broker":   25 * mb,
	"agent":    100 * mb,
	"admin":    100 * mb,
}

var defaultExtensions = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv", ".txt",
	".png", ".jpg", ".jpeg", ".tif", ".tiff",
}

// executable content is refused whatever the file is called.
var executableTypes = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-elf",
	"application/x-mach-binary",
	"application/x-msdownload",
	"application/x-sh",
	"application/x-bat",
}

// Validator checks file type and per-role size limits.
type Validator struct {
	sizeLimits map[string]int64
	extensions map[string]struct{}
}

// New returns a Validator with the default extension whitelist and role limits.
func New() *Validator {
	v := &Validator{
		sizeLimits: make(map[string]int64, len(defaultSizeLimits)),
		extensions: make(map[string]struct{}, len(defaultExtensions)),
	}
	for role, n := range defaultSizeLimits {
		v.sizeLimits[role] = n
	}
	for _, ext := range defaultExtensions {
		v.extensions[ext] = struct{}{}
	}
	return v
}

// MaxSize returns the upload limit in bytes for role.
func (v *Validator) MaxSize(role string) int64 {
	if n, ok := v.sizeLimits[strings.ToLower(role)]; ok {
		return n
	}
	return DefaultMaxSize
}

// IsAllowedType reports whether the extension is whitelisted and the content is not executable.
func (v *Validator) IsAllowedType(f model.UploadFile) bool {
	if _, ok := v.extensions[strings.ToLower(filepath.Ext(f.Name))]; !ok {
		return false
	}
	return !isExecutable(mimetype.Detect(f.Data))
}

// IsAllowedSize reports whether f is non-empty and within the role's limit.
func (v *Validator) IsAllowedSize(f model.UploadFile, role string) bool {
	return f.Size() > 0 && f.Size() <= v.MaxSize(role)
}

// Validate returns a *Error describing the first rule f breaks, or nil.
func (v *Validator) Validate(f model.UploadFile, role string) error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return &Error{FileName: f.Name, Field: "name", Reason: "is required"}
	}
	if !v.IsAllowedType(f) {
		return &Error{FileName: name, Field: "type", Reason: "is not permitted"}
	}
	if f.Size() == 0 {
		return &Error{FileName: name, Field: "size", Reason: "must not be empty"}
	}
	if !v.IsAllowedSize(f, role) {
		return &Error{
			FileName: name,
			Field:    "size",
			Reason:   fmt.Sprintf("exceeds %d MB limit for role %q", v.MaxSize(role)/mb, role),
		}
	}
	return nil
}

// DetectMimeType prefers the declared type, then the extension, then sniffed content.
func DetectMimeType(f model.UploadFile) string {
	if f.MimeType != "" && f.MimeType != "application/octet-stream" {
		return f.MimeType
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name))); t != "" {
		return t
	}
	return mimetype.Detect(f.Data).String()
}

func isExecutable(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		for _, t := range executableTypes {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}
