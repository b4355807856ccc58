// Package vault is the data collaborator seen by the workflow core: it answers
// whether required applicant fields were collected and accepts new fields.
// Encryption and storage of the values live behind this interface.
package vault

import (
	"context"
	"strings"
	"sync"

	id "kycflow/pkg/domain"
)

type Field string

const (
	FieldFirstName    Field = "id.first_name"
	FieldLastName     Field = "id.last_name"
	FieldDOB          Field = "id.dob"
	FieldSSN9         Field = "id.ssn9"
	FieldAddress      Field = "id.address_line1"
	FieldBusinessTIN  Field = "business.tin"
	FieldBusinessName Field = "business.name"
	FieldDocConsent   Field = "document.consent"

	// OCR results written back after a document verification completes.
	FieldOCRFullName       Field = "document.ocr.full_name"
	FieldOCRDOB            Field = "document.ocr.dob"
	FieldOCRDocumentNumber Field = "document.ocr.document_number"
	FieldOCRExpiresAt      Field = "document.ocr.expires_at"
)

// IsOCR reports whether f is a document OCR field.
func (f Field) IsOCR() bool {
	return strings.HasPrefix(string(f), "document.ocr.")
}

// Vault exposes collection queries and write commands.
type Vault interface {
	// Missing returns the subset of fields not yet collected for the applicant.
	Missing(ctx context.Context, applicantID id.ApplicantID, fields ...Field) ([]Field, error)
	WriteFields(ctx context.Context, applicantID id.ApplicantID, values map[Field]string) error
}

// InMemory is a plaintext vault for tests and local runs.
type InMemory struct {
	mu     sync.RWMutex
	values map[id.ApplicantID]map[Field]string
}

func NewInMemory() *InMemory {
	return &InMemory{values: make(map[id.ApplicantID]map[Field]string)}
}

func (v *InMemory) Missing(_ context.Context, applicantID id.ApplicantID, fields ...Field) ([]Field, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var missing []Field
	for _, f := range fields {
		if _, ok := v.values[applicantID][f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing, nil
}

func (v *InMemory) WriteFields(_ context.Context, applicantID id.ApplicantID, values map[Field]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.values[applicantID] == nil {
		v.values[applicantID] = make(map[Field]string)
	}
	for f, val := range values {
		v.values[applicantID][f] = val
	}
	return nil
}

// Get returns a stored value; used by tests.
func (v *InMemory) Get(applicantID id.ApplicantID, f Field) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.values[applicantID][f]
	return val, ok
}
