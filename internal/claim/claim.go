package claim

// Claim is the top-level record owning files and artifacts.
type Claim struct {
	// ID is the claim's integer identity
	ID int64 `json:"id"`

	// Title is a human-readable label
	Title string `json:"title"`

	// ReferenceNumber is an optional external reference (policy or case number)
	ReferenceNumber *string `json:"reference_number"`

	// CreatedAt is the Unix timestamp when the claim was created
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp when the claim was last updated
	UpdatedAt int64 `json:"updated_at"`
}

// File is an uploaded document belonging to a claim. The bytes live in blob
// storage under StoragePath; the record only carries metadata.
type File struct {
	ID          int64  `json:"id"`
	ClaimID     int64  `json:"claim_id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
	StoragePath string `json:"-"`

	// Revision increments every time the file content is replaced.
	// Accept uses it as the compare-and-swap token.
	Revision int64 `json:"revision"`

	CreatedAt int64 `json:"created_at"`
}

// Artifact is a typed, versioned text document derived for a claim.
type Artifact struct {
	ID      int64  `json:"id"`
	ClaimID int64  `json:"claim_id"`
	Type    string `json:"type"`
	Title   string `json:"title"`

	// CurrentVersionID points at the most recently accepted version, or nil
	// if the artifact has never had content.
	CurrentVersionID *int64 `json:"current_version_id"`

	// CurrentVersion is inlined by listing and get operations.
	CurrentVersion *ArtifactVersion `json:"current_version"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// ArtifactVersion is an immutable snapshot in an artifact's history.
type ArtifactVersion struct {
	ID         int64          `json:"id"`
	ArtifactID int64          `json:"artifact_id"`
	Content    string         `json:"content"`
	CreatedBy  string         `json:"created_by"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

// CurrentContent returns the artifact's live content, or "" if it has none.
func (a *Artifact) CurrentContent() string {
	if a == nil || a.CurrentVersion == nil {
		return ""
	}
	return a.CurrentVersion.Content
}

// ArtifactSummary is the artifact type the summary operations target.
const ArtifactSummary = "summary"

// Authors recorded on artifact versions.
const (
	AuthorAgent = "agent"
	AuthorUser  = "user"
)
