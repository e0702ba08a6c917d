// Package proposal defines the wire contract for agent change proposals.
package proposal

import (
	"bytes"
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hpungsan/claimdesk/internal/diff"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// Type is the kind of target a proposal changes.
type Type string

const (
	TypeFile     Type = "file"
	TypeArtifact Type = "artifact"
)

// Proposal is a snapshot-based candidate change to a file or artifact.
// OldContent is frozen at generation time; NewContent is the full replacement.
type Proposal struct {
	Type       Type   `json:"type"`
	TargetID   *int64 `json:"target_id"`
	TargetName string `json:"target_name"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
	Diff       string `json:"diff"`

	// Token identifies this proposal instance within a session's pending set.
	Token string `json:"token,omitempty"`
}

// IsCreate reports whether accepting the proposal creates a new target.
func (p *Proposal) IsCreate() bool {
	return p.TargetID == nil
}

// TargetKey identifies the target a proposal changes, for collision checks
// between pending proposals. Creations are keyed by normalized name.
func (p *Proposal) TargetKey() string {
	if p.TargetID != nil {
		return fmt.Sprintf("%s#%d", p.Type, *p.TargetID)
	}
	return fmt.Sprintf("%s:%s", p.Type, strings.ToLower(strings.TrimSpace(p.TargetName)))
}

// New builds a proposal with a freshly computed diff and a new token.
// fromName/toName label the diff headers.
func New(typ Type, targetID *int64, targetName, oldContent, newContent, fromName, toName string) *Proposal {
	return &Proposal{
		Type:       typ,
		TargetID:   targetID,
		TargetName: targetName,
		OldContent: oldContent,
		NewContent: newContent,
		Diff:       diff.Compute(oldContent, newContent, fromName, toName),
		Token:      NewToken(),
	}
}

// NewToken mints a proposal token (ULID).
func NewToken() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

//go:embed proposal.schema.json
var schemaJSON []byte

const schemaURL = "https://claimdesk.local/schema/proposal.json"

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("proposal schema: %v", err))
	}
	s, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("proposal schema: %v", err))
	}
	return s
}

// Decode parses a proposal from its JSON wire form, checking the wire shape
// and that the diff is consistent with old and new content.
func Decode(raw []byte) (*Proposal, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.NewInvalidRequest("proposal is required")
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid proposal JSON: %v", err))
	}
	if err := schema.Validate(instance); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid proposal: %s", describe(err)))
	}

	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid proposal: %v", err))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks a proposal already in struct form (MCP and in-process callers).
func (p *Proposal) Validate() error {
	if p == nil {
		return errors.NewInvalidRequest("proposal is required")
	}
	if p.Type != TypeFile && p.Type != TypeArtifact {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid proposal type %q, allowed: file, artifact", p.Type))
	}
	if p.TargetID != nil && *p.TargetID <= 0 {
		return errors.NewInvalidRequest("target_id must be a positive integer or null")
	}
	if strings.TrimSpace(p.TargetName) == "" {
		return errors.NewInvalidRequest("target_name is required")
	}
	applied, err := diff.Apply(p.OldContent, p.Diff)
	if err != nil || applied != p.NewContent {
		return errors.NewInvalidRequest("proposal diff does not match its content")
	}
	return nil
}

// describe flattens a schema validation error to its most specific cause.
func describe(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}

// Applied identifies the target an accepted proposal updated or created.
type Applied struct {
	Status     string `json:"status"`
	Type       Type   `json:"type"`
	TargetID   int64  `json:"target_id"`
	TargetName string `json:"target_name"`
	Created    bool   `json:"created"`

	// ArtifactID and VersionID are set for artifact proposals.
	ArtifactID *int64 `json:"artifact_id,omitempty"`
	VersionID  *int64 `json:"version_id,omitempty"`

	// FileID and Revision are set for file proposals.
	FileID   *int64 `json:"file_id,omitempty"`
	Revision *int64 `json:"revision,omitempty"`
}

// StatusAccepted is the Applied.Status of every successful accept.
const StatusAccepted = "accepted"
