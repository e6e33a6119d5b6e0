package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubProvider struct {
	name   string
	values map[string]string
	err    error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Resolve(_ context.Context, ref string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.values[ref], nil
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("PRESENT", "ok")
	t.Setenv("X", "y")

	tests := []struct {
		in      string
		want    string
		missing string
	}{
		{in: "plain", want: "plain"},
		{in: "a=${PRESENT}", want: "a=ok"},
		{in: "a=$PRESENT", want: "a=ok"},
		{in: "$$${X}", want: "$y"},
		{in: "${ZZ_MISSING} ${AA_MISSING} ${ZZ_MISSING}", missing: "AA_MISSING, ZZ_MISSING"},
	}

	for _, tt := range tests {
		got, err := ExpandEnvStrict(tt.in)
		if tt.missing != "" {
			if !errors.Is(err, ErrMissingEnv) || !strings.HasSuffix(err.Error(), tt.missing) {
				t.Errorf("ExpandEnvStrict(%q) error = %v, want missing %s", tt.in, err, tt.missing)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ExpandEnvStrict(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		ref      string
		ok       bool
	}{
		{"secretref:env:API_KEY", "env", "API_KEY", true},
		{"secretref:file:nested:name", "file", "nested:name", true},
		{"secretref:env:", "", "", false},
		{"secretref::x", "", "", false},
		{"not-a-ref", "", "", false},
	}
	for _, tt := range tests {
		provider, ref, ok := ParseSecretRef(tt.in)
		if provider != tt.provider || ref != tt.ref || ok != tt.ok {
			t.Errorf("ParseSecretRef(%q) = (%q, %q, %v)", tt.in, provider, ref, ok)
		}
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("REGION", "eu")
	r := NewResolver(true, &stubProvider{name: "stub", values: map[string]string{
		"alpha": "one",
		"eu":    "regional",
		"empty": "",
	}})
	ctx := context.Background()

	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "secretref:stub:alpha", want: "one"},
		{in: "Bearer secretref:stub:alpha", want: "Bearer one"},
		{in: "secretref:stub:alpha secretref:stub:alpha", want: "one one"},
		{in: "secretref:stub:${REGION}", want: "regional"},
		{in: "literal", want: "literal"},
		{in: "secretref:stub:empty", wantErr: ErrEmptySecret},
		{in: "secretref:vault:x", wantErr: ErrProviderNotRegistered},
		{in: "${NOPE_NOT_SET}", wantErr: ErrMissingEnv},
	}
	for _, tt := range tests {
		got, err := r.Resolve(ctx, tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestResolver_NonStrictAllowsEmpty(t *testing.T) {
	r := NewResolver(false, &stubProvider{name: "stub"})
	got, err := r.Resolve(context.Background(), "secretref:stub:anything")
	if err != nil || got != "" {
		t.Errorf("Resolve() = (%q, %v), want empty", got, err)
	}
}

func TestResolver_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("backend down")
	r := NewResolver(true, &stubProvider{name: "stub", err: boom})

	if _, err := r.Resolve(context.Background(), "x-secretref:stub:a"); !errors.Is(err, boom) {
		t.Errorf("inline error = %v, want %v", err, boom)
	}
}

func TestResolver_ResolveMap(t *testing.T) {
	t.Setenv("FLOWGUARD_TEST_TOKEN", "tok")
	r := NewResolver(true, EnvProvider{})

	out, err := r.ResolveMap(context.Background(), map[string]string{
		"Authorization": "Bearer secretref:env:FLOWGUARD_TEST_TOKEN",
		"Accept":        "application/json",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out["Authorization"] != "Bearer tok" || out["Accept"] != "application/json" {
		t.Errorf("ResolveMap() = %v", out)
	}

	if _, err := r.ResolveMap(context.Background(), map[string]string{"k": "secretref:env:FLOWGUARD_UNSET_VAR"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if out, err := r.ResolveMap(context.Background(), nil); out != nil || err != nil {
		t.Errorf("ResolveMap(nil) = (%v, %v)", out, err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "serper_key"), []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p := FileProvider{Dir: dir}
	ctx := context.Background()

	got, err := p.Resolve(ctx, "serper_key")
	if err != nil || got != "s3cret" {
		t.Errorf("Resolve() = (%q, %v), want s3cret", got, err)
	}
	if _, err := p.Resolve(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
	if _, err := p.Resolve(ctx, "../escape"); err == nil {
		t.Error("expected error for reference outside Dir")
	}
}
