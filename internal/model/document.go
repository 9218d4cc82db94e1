package model

import "time"

// Category classifies a document for filing and retention purposes.
type Category string

const (
	CategoryLoan       Category = "loan"
	CategoryFinancial  Category = "financial"
	CategoryLegal      Category = "legal"
	CategoryTax        Category = "tax"
	CategoryCompliance Category = "compliance"
	CategoryCollateral Category = "collateral"
	CategoryOther      Category = "other"
)

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryLoan, CategoryFinancial, CategoryLegal, CategoryTax,
		CategoryCompliance, CategoryCollateral, CategoryOther:
		return true
	default:
		return false
	}
}

// Document represents a stored file in the system.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Document struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	ByteSize       int64             `json:"byte_size"`
	MimeType       string            `json:"mime_type"`
	CreatedAt      time.Time         `json:"created_at"`
	LastModifiedAt time.Time         `json:"last_modified_at"`
	OwnerID        string            `json:"owner_id"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	Category       Category          `json:"category"`
	Tags           []string          `json:"tags"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// BackendRef is proof that a document was durably written to one backend.
type BackendRef struct {
	BackendName string    `json:"backend_name"`
	ExternalKey string    `json:"external_key"`
	URL         string    `json:"url,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// UploadFile is a file handed to the sync engine. Data holds the complete content;
// files are bounded by the per-role size limit so buffering them is acceptable.
type UploadFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the number of bytes in the file.
func (f UploadFile) Size() int64 {
	return int64(len(f.Data))
}
