package proposal

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hpungsan/claimdesk/internal/errors"
)

func int64Ptr(v int64) *int64 { return &v }

func TestNew_ComputesDiffAndToken(t *testing.T) {
	p := New(TypeArtifact, nil, "summary", "", "# Claim Summary\n", "current_summary", "proposed_summary")

	if p.Diff == "" {
		t.Fatal("Diff should be computed even when old content is empty")
	}
	if !strings.Contains(p.Diff, "+# Claim Summary") {
		t.Errorf("Diff = %q", p.Diff)
	}
	if len(p.Token) != 26 {
		t.Errorf("Token = %q, want 26-char ULID", p.Token)
	}
	if !p.IsCreate() {
		t.Error("proposal without target_id should be a create")
	}
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewToken()
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestTargetKey(t *testing.T) {
	byID := &Proposal{Type: TypeFile, TargetID: int64Ptr(7), TargetName: "notes.txt"}
	if got := byID.TargetKey(); got != "file#7" {
		t.Errorf("TargetKey() = %q, want file#7", got)
	}

	create := &Proposal{Type: TypeArtifact, TargetName: " Summary "}
	if got := create.TargetKey(); got != "artifact:summary" {
		t.Errorf("TargetKey() = %q, want artifact:summary", got)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	p := New(TypeFile, int64Ptr(3), "notes.txt", "a\n", "a\nb\n", "notes.txt", "notes.txt")
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if *got.TargetID != 3 || got.Token != p.Token || got.NewContent != p.NewContent {
		t.Errorf("Decode() = %+v, want %+v", got, p)
	}
}

func TestDecode_NullTargetID(t *testing.T) {
	raw := `{"type":"artifact","target_id":null,"target_name":"summary","old_content":"","new_content":"","diff":""}`

	got, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.TargetID != nil {
		t.Errorf("TargetID = %v, want nil", *got.TargetID)
	}
	if got.Token != "" {
		t.Errorf("Token = %q, want empty (token is optional)", got.Token)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"not json", `{nope`},
		{"missing target_id", `{"type":"artifact","target_name":"summary","old_content":"","new_content":"","diff":""}`},
		{"missing diff", `{"type":"artifact","target_id":null,"target_name":"summary","old_content":"","new_content":""}`},
		{"bad type", `{"type":"folder","target_id":null,"target_name":"x","old_content":"","new_content":"","diff":""}`},
		{"string target_id", `{"type":"file","target_id":"3","target_name":"x","old_content":"","new_content":"","diff":""}`},
		{"zero target_id", `{"type":"file","target_id":0,"target_name":"x","old_content":"","new_content":"","diff":""}`},
		{"fractional target_id", `{"type":"file","target_id":1.5,"target_name":"x","old_content":"","new_content":"","diff":""}`},
		{"empty target_name", `{"type":"file","target_id":1,"target_name":"","old_content":"","new_content":"","diff":""}`},
		{"diff disagrees with content", `{"type":"artifact","target_id":null,"target_name":"summary","old_content":"","new_content":"tampered","diff":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatal("Decode() expected error")
			}
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("Decode() error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	var p *Proposal
	if err := p.Validate(); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Validate() on nil = %v, want INVALID_REQUEST", err)
	}
}
