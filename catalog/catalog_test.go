package catalog_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/xraph/hookrelay/catalog"
)

func TestCatalogRequiresObject(t *testing.T) {
	c := catalog.New(nil)

	cases := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"object", `{"a":1}`, true},
		{"empty object", `{}`, true},
		{"array", `[1,2]`, false},
		{"string", `"hello"`, false},
		{"null", `null`, false},
		{"number", `42`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Validate("anything", json.RawMessage(tc.payload))
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCatalogRegisteredSchema(t *testing.T) {
	c := catalog.New(nil)

	err := c.Register("application.created", json.RawMessage(`{
		"type": "object",
		"required": ["candidateId"],
		"properties": {"candidateId": {"type": "string"}}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Validate("application.created", json.RawMessage(`{"candidateId":"c_1"}`)); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := c.Validate("application.created", json.RawMessage(`{"jobId":"j_1"}`)); err == nil {
		t.Fatal("expected schema violation")
	}

	// Other types only need an object.
	if err := c.Validate("job.closed", json.RawMessage(`{"jobId":"j_1"}`)); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestCatalogRegisterInvalidSchema(t *testing.T) {
	c := catalog.New(nil)

	if err := c.Register("bad", json.RawMessage(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error")
	}
	if len(c.Types()) != 0 {
		t.Fatal("invalid schema should not be registered")
	}
}

func TestCatalogLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"offer.sent.json":     `{"type":"object","required":["offerId"]}`,
		"interview.done.json": `{"type":"object"}`,
		"README.md":           `ignored`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	c := catalog.New(nil)
	n, err := c.LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 schemas, got %d", n)
	}

	types := c.Types()
	if len(types) != 2 || types[0] != "interview.done" || types[1] != "offer.sent" {
		t.Fatalf("unexpected types: %v", types)
	}

	if err := c.Validate("offer.sent", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected schema from file to apply")
	}
}
